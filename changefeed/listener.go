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
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/launchboard/beacon/common"
	"github.com/launchboard/beacon/fanout"
)

// ChangeFeedListener bridges the upstream change feed to the campaign
// fan-out vocabulary
type ChangeFeedListener interface {
	// HandleChange translate one raw change notification and broadcast the
	// resulting domain event. Unroutable changes are dropped.
	HandleChange(ctxt context.Context, change RawChange)
	// StartWatchdog start periodic staleness reporting on the feed
	StartWatchdog() error
}

// changeFeedListenerImpl implements ChangeFeedListener
type changeFeedListenerImpl struct {
	common.Component
	distributor    fanout.CampaignFanout
	taskTable      string
	historyTable   string
	watchdogWindow time.Duration
	watchdog       common.IntervalTimer
	lastChange     time.Time
	lastChangeLock *sync.Mutex
	validate       *validator.Validate
}

// campaignRef minimal view of a task row for routing
type campaignRef struct {
	CampaignID string `json:"campaign_id"`
}

// GetChangeFeedListener define ChangeFeedListener
//
// watchdogWindow of zero disables the feed staleness watchdog.
func GetChangeFeedListener(
	rootCtxt context.Context,
	distributor fanout.CampaignFanout,
	taskTable, historyTable string,
	watchdogWindow time.Duration,
	wg *sync.WaitGroup,
) (ChangeFeedListener, error) {
	logTags := log.Fields{
		"module":        "changefeed",
		"component":     "feed-listener",
		"task_table":    taskTable,
		"history_table": historyTable,
	}
	if taskTable == "" || historyTable == "" {
		return nil, fmt.Errorf("listener requires both task and history table names")
	}
	watchdog, err := common.GetIntervalTimerInstance("feed-watchdog", rootCtxt, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define feed watchdog")
		return nil, err
	}
	return &changeFeedListenerImpl{
		Component:      common.Component{LogTags: logTags},
		distributor:    distributor,
		taskTable:      taskTable,
		historyTable:   historyTable,
		watchdogWindow: watchdogWindow,
		watchdog:       watchdog,
		lastChange:     time.Now(),
		lastChangeLock: &sync.Mutex{},
		validate:       validator.New(),
	}, nil
}

// StartWatchdog start periodic staleness reporting on the feed.
//
// The upstream subscription reconnects on its own, but a subscription that
// silently dies produces no error at this layer. The watchdog surfaces that
// condition as a log alert.
func (l *changeFeedListenerImpl) StartWatchdog() error {
	if l.watchdogWindow == 0 {
		log.WithFields(l.LogTags).Info("Feed watchdog disabled")
		return nil
	}
	return l.watchdog.Start(l.watchdogWindow, func() error {
		l.lastChangeLock.Lock()
		silentFor := time.Since(l.lastChange)
		l.lastChangeLock.Unlock()
		if silentFor >= l.watchdogWindow {
			log.WithFields(l.LogTags).Warnf(
				"No change notification received in %s. Feed subscription may be dead", silentFor,
			)
		}
		return nil
	})
}

// HandleChange translate one raw change notification and broadcast the
// resulting domain event
func (l *changeFeedListenerImpl) HandleChange(ctxt context.Context, change RawChange) {
	l.lastChangeLock.Lock()
	l.lastChange = time.Now()
	l.lastChangeLock.Unlock()

	if err := l.validate.Struct(&change); err != nil {
		log.WithError(err).WithFields(l.LogTags).Warnf(
			"Discarding malformed change notification for table '%s'", change.Table,
		)
		return
	}

	switch change.Table {
	case l.taskTable:
		l.handleTaskChange(ctxt, change)
	case l.historyTable:
		l.handleHistoryChange(ctxt, change)
	default:
		log.WithFields(l.LogTags).Debugf("Ignoring change on unwatched table %s", change.Table)
	}
}

// handleTaskChange route a task change to its owning campaign's subscribers
func (l *changeFeedListenerImpl) handleTaskChange(ctxt context.Context, change RawChange) {
	campaignID := readCampaignID(change.Data.New)
	if campaignID == "" {
		// On DELETE the new row is absent; route on the old row instead
		campaignID = readCampaignID(change.Data.Old)
	}
	if campaignID == "" {
		log.WithFields(l.LogTags).Debugf(
			"Task %s carried no campaign ID. Dropping", change.Action,
		)
		return
	}
	record := change.Data.New
	if record == nil {
		record = change.Data.Old
	}
	l.distributor.Broadcast(ctxt, campaignID, fanout.NewTaskUpdateEvent(change.Action, record))
}

// handleHistoryChange broadcast a history change to every campaign.
//
// The history row does not carry its owning campaign ID, so every connected
// client receives the event and filters by campaign on its side.
func (l *changeFeedListenerImpl) handleHistoryChange(ctxt context.Context, change RawChange) {
	record := change.Data.New
	if record == nil {
		record = change.Data.Old
	}
	l.distributor.BroadcastAll(ctxt, fanout.NewHistoryUpdateEvent(change.Action, record))
}

// readCampaignID extract the owning campaign ID from a row, if present
func readCampaignID(record json.RawMessage) string {
	if record == nil {
		return ""
	}
	var ref campaignRef
	if err := json.Unmarshal(record, &ref); err != nil {
		return ""
	}
	return ref.CampaignID
}
