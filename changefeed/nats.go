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

	"github.com/apex/log"
	"github.com/launchboard/beacon/common"
	"github.com/launchboard/beacon/core"
	"github.com/nats-io/nats.go"
)

// natsChangeSource implements ChangeSource over a NATS subject bridge.
// Deployments that pipe their CDC stream onto a bus use this instead of
// a direct Postgres listener.
type natsChangeSource struct {
	common.Component
	client       core.NatsClient
	subject      string
	started      bool
	subscription *nats.Subscription
	lock         *sync.Mutex
	ctxt         context.Context
}

// GetNatsChangeSource define a ChangeSource reading re-published change
// notifications from a NATS subject
func GetNatsChangeSource(
	opContext context.Context, client core.NatsClient, subject string,
) (ChangeSource, error) {
	logTags := log.Fields{
		"module":    "changefeed",
		"component": "nats-source",
		"subject":   subject,
	}
	if subject == "" {
		return nil, fmt.Errorf("nats change source requires a subject")
	}
	return &natsChangeSource{
		Component:    common.Component{LogTags: logTags},
		client:       client,
		subject:      subject,
		started:      false,
		subscription: nil,
		lock:         &sync.Mutex{},
		ctxt:         opContext,
	}, nil
}

// StartFeed start receiving raw change notifications
func (s *natsChangeSource) StartFeed(wg *sync.WaitGroup, handler ChangeHandler) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	// Already subscribed
	if s.started {
		return fmt.Errorf("already instructed to subscribe to %s", s.subject)
	}
	s.started = true
	subscription, err := s.client.NATs().Subscribe(s.subject, func(msg *nats.Msg) {
		var change RawChange
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			log.WithError(err).WithFields(s.LogTags).Errorf(
				"Failed to read change notification: %s", msg.Data,
			)
			return
		}
		handler(s.ctxt, change)
	})
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to subscribe to change subject %s", s.subject,
		)
		return err
	}
	s.subscription = subscription
	// Handler to automatically un-subscribe once the context is over
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-s.ctxt.Done()
		log.WithFields(s.LogTags).Debugf("Unsubscribing from change subject %s", s.subject)
		if err := s.subscription.Unsubscribe(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Errorf(
				"Error occurred when unsubscribing from change subject %s", s.subject,
			)
		}
		log.WithFields(s.LogTags).Infof("Unsubscribed from change subject %s", s.subject)
	}()
	return nil
}
