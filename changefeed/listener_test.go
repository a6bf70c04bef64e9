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

package changefeed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/launchboard/beacon/fanout"
	"github.com/stretchr/testify/assert"
)

// recordingSender test sender capturing delivered events
type recordingSender struct {
	received []fanout.Event
}

func (s *recordingSender) SendEvent(event fanout.Event) error {
	s.received = append(s.received, event)
	return nil
}

func subscribeTestConnection(
	uut fanout.CampaignFanout, campaignID string,
) *recordingSender {
	sender := &recordingSender{received: nil}
	uut.RegisterConnection(context.Background(), fanout.Connection{
		ID: uuid.NewString(), CampaignID: campaignID, Sender: sender,
	})
	return sender
}

func TestChangeFeedListenerTaskRouting(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	distributor, err := fanout.GetCampaignFanout("ut-listener-tasks")
	assert.Nil(err)
	uut, err := GetChangeFeedListener(
		utCtxt, distributor, "campaign_tasks", "phase_history", 0, &wg,
	)
	assert.Nil(err)
	assert.Nil(uut.StartWatchdog())

	senderA := subscribeTestConnection(distributor, "c1")
	senderB := subscribeTestConnection(distributor, "c2")

	// Case 0: insert routed by new row's campaign ID
	uut.HandleChange(utCtxt, RawChange{
		Table:  "campaign_tasks",
		Action: "INSERT",
		Data: RawChangeData{
			New: json.RawMessage(`{"id":"t1","campaign_id":"c1"}`),
		},
	})
	assert.Len(senderA.received, 1)
	assert.Equal(fanout.KindTaskUpdate, senderA.received[0].Kind())
	assert.Empty(senderB.received)

	// Case 1: deletion falls back to the old row's campaign ID
	uut.HandleChange(utCtxt, RawChange{
		Table:  "campaign_tasks",
		Action: "DELETE",
		Data: RawChangeData{
			Old: json.RawMessage(`{"id":"t2","campaign_id":"c1"}`),
		},
	})
	assert.Len(senderA.received, 2)
	assert.Empty(senderB.received)

	// Case 2: no campaign ID on either row drops the change
	uut.HandleChange(utCtxt, RawChange{
		Table:  "campaign_tasks",
		Action: "UPDATE",
		Data: RawChangeData{
			New: json.RawMessage(`{"id":"t3"}`),
			Old: json.RawMessage(`{"id":"t3"}`),
		},
	})
	assert.Len(senderA.received, 2)
	assert.Empty(senderB.received)

	// Case 3: changes on unwatched tables are ignored
	uut.HandleChange(utCtxt, RawChange{
		Table:  "campaign_phases",
		Action: "INSERT",
		Data: RawChangeData{
			New: json.RawMessage(`{"id":"p1","campaign_id":"c1"}`),
		},
	})
	assert.Len(senderA.received, 2)

	// Case 4: malformed change type is discarded
	uut.HandleChange(utCtxt, RawChange{
		Table:  "campaign_tasks",
		Action: "TRUNCATE",
		Data: RawChangeData{
			New: json.RawMessage(`{"id":"t4","campaign_id":"c1"}`),
		},
	})
	assert.Len(senderA.received, 2)
}

func TestChangeFeedListenerHistoryFanout(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	distributor, err := fanout.GetCampaignFanout("ut-listener-history")
	assert.Nil(err)
	uut, err := GetChangeFeedListener(
		utCtxt, distributor, "campaign_tasks", "phase_history", 0, &wg,
	)
	assert.Nil(err)

	senderA := subscribeTestConnection(distributor, "c1")
	senderB := subscribeTestConnection(distributor, "c2")

	// History rows carry no campaign ID, so every campaign hears the change
	uut.HandleChange(utCtxt, RawChange{
		Table:  "phase_history",
		Action: "INSERT",
		Data: RawChangeData{
			New: json.RawMessage(`{"id":"h1","task_id":"t1"}`),
		},
	})
	assert.Len(senderA.received, 1)
	assert.Equal(fanout.KindHistoryUpdate, senderA.received[0].Kind())
	assert.Len(senderB.received, 1)
	assert.Equal(fanout.KindHistoryUpdate, senderB.received[0].Kind())
}
