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
	"github.com/launchboard/beacon/common"
	"github.com/launchboard/beacon/core"
)

// postgresPingInterval how long the notification loop idles before
// probing the listener connection
const postgresPingInterval = time.Second * 90

// postgresChangeSource implements ChangeSource over Postgres LISTEN / NOTIFY
type postgresChangeSource struct {
	common.Component
	client  core.PostgresClient
	channel string
	started bool
	lock    *sync.Mutex
	ctxt    context.Context
}

// GetPostgresChangeSource define a ChangeSource reading the row-change
// trigger's NOTIFY channel
func GetPostgresChangeSource(
	opContext context.Context, client core.PostgresClient, channel string,
) (ChangeSource, error) {
	logTags := log.Fields{
		"module":    "changefeed",
		"component": "postgres-source",
		"channel":   channel,
	}
	if channel == "" {
		return nil, fmt.Errorf("postgres change source requires a NOTIFY channel")
	}
	return &postgresChangeSource{
		Component: common.Component{LogTags: logTags},
		client:    client,
		channel:   channel,
		started:   false,
		lock:      &sync.Mutex{},
		ctxt:      opContext,
	}, nil
}

// StartFeed start receiving raw change notifications
func (s *postgresChangeSource) StartFeed(wg *sync.WaitGroup, handler ChangeHandler) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	// Already subscribed
	if s.started {
		return fmt.Errorf("already instructed to listen on %s", s.channel)
	}
	s.started = true
	if err := s.client.Listen(s.channel); err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer log.WithFields(s.LogTags).Info("Notification loop exiting")
		for {
			select {
			case <-s.ctxt.Done():
				return
			case notification := <-s.client.NotificationChan():
				if notification == nil {
					// The listener reconnected; notifications in between are lost
					log.WithFields(s.LogTags).Warn(
						"Listener reconnected. Clients refetch state on next event",
					)
					continue
				}
				change, err := ParseChangePayload(notification.Extra)
				if err != nil {
					log.WithError(err).WithFields(s.LogTags).Errorf(
						"Failed to read change notification: %s", notification.Extra,
					)
					continue
				}
				handler(s.ctxt, change)
			case <-time.After(postgresPingInterval):
				go func() {
					if err := s.client.Ping(); err != nil {
						log.WithError(err).WithFields(s.LogTags).Error("Listener ping failed")
					}
				}()
			}
		}
	}()
	return nil
}

// ParseChangePayload decode one NOTIFY payload into a RawChange
func ParseChangePayload(payload string) (RawChange, error) {
	var change RawChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return RawChange{}, err
	}
	return change, nil
}
