// Copyright 2024-2025 The beacon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fanout

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventFraming(t *testing.T) {
	assert := assert.New(t)

	// Case 0: connected event
	{
		event := NewConnectedEvent("conn-0", "campaign-0")
		assert.Equal(KindConnected, event.Kind())
		frame, err := event.Frame()
		assert.Nil(err)
		assert.Equal(
			"event: connected\ndata: {\"connectionId\":\"conn-0\",\"campaignId\":\"campaign-0\"}\n\n",
			string(frame),
		)
	}

	// Case 1: task update event
	{
		record := json.RawMessage(`{"id":"task-1","campaign_id":"campaign-0"}`)
		event := NewTaskUpdateEvent(ChangeInsert, record)
		assert.Equal(KindTaskUpdate, event.Kind())
		frame, err := event.Frame()
		assert.Nil(err)
		assert.Equal(
			"event: task-update\ndata: {\"type\":\"INSERT\",\"data\":{\"id\":\"task-1\",\"campaign_id\":\"campaign-0\"}}\n\n",
			string(frame),
		)
	}

	// Case 2: history update event
	{
		record := json.RawMessage(`{"id":"hist-1"}`)
		event := NewHistoryUpdateEvent(ChangeDelete, record)
		assert.Equal(KindHistoryUpdate, event.Kind())
		frame, err := event.Frame()
		assert.Nil(err)
		assert.Equal(
			"event: history-update\ndata: {\"type\":\"DELETE\",\"data\":{\"id\":\"hist-1\"}}\n\n",
			string(frame),
		)
	}
}

func TestHeartbeatFraming(t *testing.T) {
	assert := assert.New(t)

	// Comment-only frame with no event / data pair
	assert.Equal(":heartbeat\n\n", string(HeartbeatFrame()))
}
