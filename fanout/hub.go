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
	"sync"

	"github.com/apex/log"
	"github.com/launchboard/beacon/common"
)

// EventSender is the output sink of one client connection
type EventSender interface {
	// SendEvent write one framed event to the client
	SendEvent(event Event) error
}

// Connection represents one open streaming channel to a browser client
type Connection struct {
	// ID is an opaque token unique to this connection
	ID string
	// CampaignID is the campaign this connection subscribed to
	CampaignID string
	// Sender is the connection's output sink
	Sender EventSender
}

// DeliveryResult outcome of delivering one event to one connection
type DeliveryResult struct {
	// ConnectionID is the target connection
	ConnectionID string
	// Err is nil when the event was delivered
	Err error
}

// BroadcastReport per-connection outcomes of one broadcast call
type BroadcastReport struct {
	// Results are the individual delivery outcomes
	Results []DeliveryResult
}

// Delivered number of successful deliveries
func (r BroadcastReport) Delivered() int {
	count := 0
	for _, result := range r.Results {
		if result.Err == nil {
			count++
		}
	}
	return count
}

// Failed connection IDs whose delivery failed
func (r BroadcastReport) Failed() []string {
	failed := []string{}
	for _, result := range r.Results {
		if result.Err != nil {
			failed = append(failed, result.ConnectionID)
		}
	}
	return failed
}

// CampaignFanout distributes campaign events to the set of subscribed
// client connections.
//
// Delivery is fire-and-forget: an event is a cue for the client to refetch
// authoritative state, so there is no retry, no queue, and no replay for
// connections registered after the broadcast.
type CampaignFanout interface {
	// RegisterConnection insert a connection into its campaign's subscriber set
	RegisterConnection(ctxt context.Context, connection Connection)
	// UnregisterConnection remove a connection from a campaign's subscriber
	// set. Idempotent; a no-op for unknown campaign or connection IDs.
	UnregisterConnection(ctxt context.Context, campaignID, connectionID string)
	// Broadcast deliver an event to every connection subscribed to the
	// campaign. Connections whose write fails are unregistered.
	Broadcast(ctxt context.Context, campaignID string, event Event) BroadcastReport
	// BroadcastAll deliver an event to every connection across all campaigns
	BroadcastAll(ctxt context.Context, event Event) BroadcastReport
	// SubscriberCount number of connections subscribed to the campaign
	SubscriberCount(campaignID string) int
	// SubscriberCounts per-campaign connection counts
	SubscriberCounts() map[string]int
}

// campaignFanoutImpl implements CampaignFanout
type campaignFanoutImpl struct {
	common.Component
	// subscribers is the registry mapping campaign ID to the connections
	// interested in it. A campaign key exists only while it has at least
	// one live connection.
	subscribers map[string]map[string]Connection
	lock        *sync.Mutex
}

// GetCampaignFanout define CampaignFanout
func GetCampaignFanout(instance string) (CampaignFanout, error) {
	logTags := log.Fields{
		"module":    "fanout",
		"component": "campaign-fanout",
		"instance":  instance,
	}
	return &campaignFanoutImpl{
		Component:   common.Component{LogTags: logTags},
		subscribers: make(map[string]map[string]Connection),
		lock:        &sync.Mutex{},
	}, nil
}

// RegisterConnection insert a connection into its campaign's subscriber set
func (f *campaignFanoutImpl) RegisterConnection(ctxt context.Context, connection Connection) {
	f.lock.Lock()
	defer f.lock.Unlock()
	campaignSet, ok := f.subscribers[connection.CampaignID]
	if !ok {
		campaignSet = make(map[string]Connection)
		f.subscribers[connection.CampaignID] = campaignSet
	}
	campaignSet[connection.ID] = connection
	log.WithFields(f.LogTags).WithField("campaign", connection.CampaignID).Infof(
		"Registered connection %s. Campaign now has %d subscribers",
		connection.ID,
		len(campaignSet),
	)
}

// UnregisterConnection remove a connection from a campaign's subscriber set
func (f *campaignFanoutImpl) UnregisterConnection(
	ctxt context.Context, campaignID, connectionID string,
) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.removeConnection(campaignID, connectionID)
}

// removeConnection caller must hold the registry lock
func (f *campaignFanoutImpl) removeConnection(campaignID, connectionID string) {
	campaignSet, ok := f.subscribers[campaignID]
	if !ok {
		return
	}
	if _, ok := campaignSet[connectionID]; !ok {
		return
	}
	delete(campaignSet, connectionID)
	log.WithFields(f.LogTags).WithField("campaign", campaignID).Infof(
		"Unregistered connection %s. Campaign now has %d subscribers",
		connectionID,
		len(campaignSet),
	)
	// Drop the campaign entry once its subscriber set empties
	if len(campaignSet) == 0 {
		delete(f.subscribers, campaignID)
	}
}

// deliverToSet caller must hold the registry lock. Write failures are
// contained per connection; one dead connection never blocks delivery to
// the rest.
func (f *campaignFanoutImpl) deliverToSet(
	campaignID string, campaignSet map[string]Connection, event Event,
) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(campaignSet))
	for connectionID, connection := range campaignSet {
		err := connection.Sender.SendEvent(event)
		if err != nil {
			log.WithError(err).WithFields(f.LogTags).WithField("campaign", campaignID).Debugf(
				"Failed to deliver %s to connection %s", event.String(), connectionID,
			)
		}
		results = append(results, DeliveryResult{ConnectionID: connectionID, Err: err})
	}
	return results
}

// Broadcast deliver an event to every connection subscribed to the campaign
func (f *campaignFanoutImpl) Broadcast(
	ctxt context.Context, campaignID string, event Event,
) BroadcastReport {
	f.lock.Lock()
	defer f.lock.Unlock()
	campaignSet, ok := f.subscribers[campaignID]
	if !ok {
		log.WithFields(f.LogTags).WithField("campaign", campaignID).Debugf(
			"No subscribers for %s. Skipping", event.String(),
		)
		return BroadcastReport{Results: []DeliveryResult{}}
	}
	report := BroadcastReport{Results: f.deliverToSet(campaignID, campaignSet, event)}
	for _, connectionID := range report.Failed() {
		f.removeConnection(campaignID, connectionID)
	}
	log.WithFields(f.LogTags).WithField("campaign", campaignID).Debugf(
		"Delivered %s to %d of %d subscribers",
		event.String(),
		report.Delivered(),
		len(report.Results),
	)
	return report
}

// BroadcastAll deliver an event to every connection across all campaigns
func (f *campaignFanoutImpl) BroadcastAll(ctxt context.Context, event Event) BroadcastReport {
	f.lock.Lock()
	defer f.lock.Unlock()
	report := BroadcastReport{Results: []DeliveryResult{}}
	failedPerCampaign := map[string][]string{}
	for campaignID, campaignSet := range f.subscribers {
		results := f.deliverToSet(campaignID, campaignSet, event)
		for _, result := range results {
			if result.Err != nil {
				failedPerCampaign[campaignID] = append(
					failedPerCampaign[campaignID], result.ConnectionID,
				)
			}
		}
		report.Results = append(report.Results, results...)
	}
	for campaignID, connectionIDs := range failedPerCampaign {
		for _, connectionID := range connectionIDs {
			f.removeConnection(campaignID, connectionID)
		}
	}
	log.WithFields(f.LogTags).Debugf(
		"Delivered %s to %d of %d subscribers across all campaigns",
		event.String(),
		report.Delivered(),
		len(report.Results),
	)
	return report
}

// SubscriberCount number of connections subscribed to the campaign
func (f *campaignFanoutImpl) SubscriberCount(campaignID string) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.subscribers[campaignID])
}

// SubscriberCounts per-campaign connection counts
func (f *campaignFanoutImpl) SubscriberCounts() map[string]int {
	f.lock.Lock()
	defer f.lock.Unlock()
	counts := make(map[string]int, len(f.subscribers))
	for campaignID, campaignSet := range f.subscribers {
		counts[campaignID] = len(campaignSet)
	}
	return counts
}
