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
	"fmt"
)

// EventKind is the SSE event name of a campaign domain event
type EventKind string

const (
	// KindConnected initial event sent when a client stream opens
	KindConnected EventKind = "connected"
	// KindTaskUpdate a campaign task row changed
	KindTaskUpdate EventKind = "task-update"
	// KindHistoryUpdate a phase history row changed
	KindHistoryUpdate EventKind = "history-update"
)

const (
	// ChangeInsert a row was inserted
	ChangeInsert = "INSERT"
	// ChangeUpdate a row was updated
	ChangeUpdate = "UPDATE"
	// ChangeDelete a row was deleted
	ChangeDelete = "DELETE"
)

// ConnectedPayload payload of the stream-open confirmation event
type ConnectedPayload struct {
	// ConnectionID is the ID assigned to the new connection
	ConnectionID string `json:"connectionId"`
	// CampaignID is the campaign the connection subscribed to
	CampaignID string `json:"campaignId"`
}

// ChangePayload payload of a row-change event
type ChangePayload struct {
	// Type is the row change type: INSERT, UPDATE, or DELETE
	Type string `json:"type"`
	// Data is the changed record as stored
	Data json.RawMessage `json:"data"`
}

// Event one framed SSE event.
//
// The constructors are the only way to build an Event, so each kind always
// pairs with its payload type.
type Event struct {
	kind    EventKind
	payload interface{}
}

// NewConnectedEvent define the stream-open confirmation event
func NewConnectedEvent(connectionID, campaignID string) Event {
	return Event{
		kind: KindConnected,
		payload: ConnectedPayload{
			ConnectionID: connectionID, CampaignID: campaignID,
		},
	}
}

// NewTaskUpdateEvent define a campaign task change event
func NewTaskUpdateEvent(changeType string, record json.RawMessage) Event {
	return Event{
		kind:    KindTaskUpdate,
		payload: ChangePayload{Type: changeType, Data: record},
	}
}

// NewHistoryUpdateEvent define a phase history change event
func NewHistoryUpdateEvent(changeType string, record json.RawMessage) Event {
	return Event{
		kind:    KindHistoryUpdate,
		payload: ChangePayload{Type: changeType, Data: record},
	}
}

// Kind fetch the event kind
func (e Event) Kind() EventKind {
	return e.kind
}

// String toString for Event
func (e Event) String() string {
	return string(e.kind)
}

// Frame serialize the event using text-event-stream framing
//
//	event: <kind>
//	data: <JSON payload>
//
// with a blank line terminating the frame.
func (e Event) Frame() ([]byte, error) {
	serialized, err := json.Marshal(e.payload)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.kind, serialized)), nil
}

// HeartbeatFrame comment-only keepalive frame. Carries no event or data
// pair; clients ignore it.
func HeartbeatFrame() []byte {
	return []byte(":heartbeat\n\n")
}
