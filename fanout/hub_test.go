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
	"context"
	"fmt"
	"testing"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// recordingSender test sender capturing delivered events
type recordingSender struct {
	received []Event
	failing  bool
}

func (s *recordingSender) SendEvent(event Event) error {
	if s.failing {
		return fmt.Errorf("dummy write failure")
	}
	s.received = append(s.received, event)
	return nil
}

func registerTestConnection(
	t *testing.T, uut CampaignFanout, campaignID string, failing bool,
) (string, *recordingSender) {
	t.Helper()
	sender := &recordingSender{received: nil, failing: failing}
	connectionID := uuid.NewString()
	uut.RegisterConnection(context.Background(), Connection{
		ID: connectionID, CampaignID: campaignID, Sender: sender,
	})
	return connectionID, sender
}

func TestCampaignFanoutBasicRouting(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)
	utCtxt := context.Background()

	uut, err := GetCampaignFanout("ut-fanout-routing")
	assert.Nil(err)

	campaignA := uuid.NewString()
	campaignB := uuid.NewString()
	_, senderA := registerTestConnection(t, uut, campaignA, false)
	_, senderB := registerTestConnection(t, uut, campaignB, false)
	assert.Equal(1, uut.SubscriberCount(campaignA))
	assert.Equal(1, uut.SubscriberCount(campaignB))

	// Case 0: broadcast reaches only the target campaign
	event := NewTaskUpdateEvent(ChangeInsert, []byte(`{"id":"t0"}`))
	report := uut.Broadcast(utCtxt, campaignA, event)
	assert.Equal(1, report.Delivered())
	assert.Empty(report.Failed())
	assert.Len(senderA.received, 1)
	assert.Equal(KindTaskUpdate, senderA.received[0].Kind())
	assert.Empty(senderB.received)

	// Case 1: broadcast to a campaign with no subscribers is a silent no-op
	report = uut.Broadcast(utCtxt, uuid.NewString(), event)
	assert.Empty(report.Results)
}

func TestCampaignFanoutUnregister(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	uut, err := GetCampaignFanout("ut-fanout-unregister")
	assert.Nil(err)

	campaignA := uuid.NewString()
	campaignB := uuid.NewString()
	connA, senderA := registerTestConnection(t, uut, campaignA, false)
	_, senderB := registerTestConnection(t, uut, campaignB, false)

	// Case 0: removing the last connection drops the campaign entry
	uut.UnregisterConnection(utCtxt, campaignA, connA)
	assert.Equal(0, uut.SubscriberCount(campaignA))
	counts := uut.SubscriberCounts()
	_, present := counts[campaignA]
	assert.False(present)

	// Case 1: broadcast after removal is a no-op and does not re-create the entry
	report := uut.Broadcast(utCtxt, campaignA, NewTaskUpdateEvent(ChangeUpdate, []byte(`{}`)))
	assert.Empty(report.Results)
	_, present = uut.SubscriberCounts()[campaignA]
	assert.False(present)
	assert.Empty(senderA.received)

	// Case 2: unregister is idempotent, and total for unknown IDs
	uut.UnregisterConnection(utCtxt, campaignA, connA)
	uut.UnregisterConnection(utCtxt, campaignA, connA)
	uut.UnregisterConnection(utCtxt, uuid.NewString(), uuid.NewString())
	uut.UnregisterConnection(utCtxt, campaignB, uuid.NewString())
	assert.Equal(1, uut.SubscriberCount(campaignB))

	// Case 3: the untouched campaign still receives events
	report = uut.Broadcast(utCtxt, campaignB, NewTaskUpdateEvent(ChangeUpdate, []byte(`{}`)))
	assert.Equal(1, report.Delivered())
	assert.Len(senderB.received, 1)
}

func TestCampaignFanoutPartialFailureIsolation(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	uut, err := GetCampaignFanout("ut-fanout-partial-failure")
	assert.Nil(err)

	campaign := uuid.NewString()
	_, sender1 := registerTestConnection(t, uut, campaign, false)
	connDead, _ := registerTestConnection(t, uut, campaign, true)
	_, sender3 := registerTestConnection(t, uut, campaign, false)
	assert.Equal(3, uut.SubscriberCount(campaign))

	report := uut.Broadcast(utCtxt, campaign, NewTaskUpdateEvent(ChangeInsert, []byte(`{}`)))
	assert.Len(report.Results, 3)
	assert.Equal(2, report.Delivered())
	assert.Equal([]string{connDead}, report.Failed())

	// Healthy connections got the event, the dead one was dropped
	assert.Len(sender1.received, 1)
	assert.Len(sender3.received, 1)
	assert.Equal(2, uut.SubscriberCount(campaign))
	report = uut.Broadcast(utCtxt, campaign, NewTaskUpdateEvent(ChangeUpdate, []byte(`{}`)))
	assert.Len(report.Results, 2)
	assert.Equal(2, report.Delivered())
}

func TestCampaignFanoutBroadcastAll(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	uut, err := GetCampaignFanout("ut-fanout-broadcast-all")
	assert.Nil(err)

	campaignA := uuid.NewString()
	campaignB := uuid.NewString()
	_, senderA := registerTestConnection(t, uut, campaignA, false)
	_, senderB := registerTestConnection(t, uut, campaignB, false)
	connDead, _ := registerTestConnection(t, uut, campaignB, true)

	event := NewHistoryUpdateEvent(ChangeInsert, []byte(`{"id":"h0"}`))
	report := uut.BroadcastAll(utCtxt, event)
	assert.Len(report.Results, 3)
	assert.Equal(2, report.Delivered())
	assert.Equal([]string{connDead}, report.Failed())

	// One delivery under each campaign
	assert.Len(senderA.received, 1)
	assert.Equal(KindHistoryUpdate, senderA.received[0].Kind())
	assert.Len(senderB.received, 1)
	assert.Equal(KindHistoryUpdate, senderB.received[0].Kind())

	// The failing connection was removed from its campaign only
	assert.Equal(1, uut.SubscriberCount(campaignA))
	assert.Equal(1, uut.SubscriberCount(campaignB))
}
