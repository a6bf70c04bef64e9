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

package core

import (
	"time"

	"github.com/apex/log"
	"github.com/launchboard/beacon/common"
	"github.com/lib/pq"
)

// PostgresConnectParams Postgres LISTEN / NOTIFY connection parameter
type PostgresConnectParams struct {
	// DSN connect to Postgres with connection string
	DSN string `validate:"required"`
	// MinReconnectInterval min wait duration between reconnect attempts
	MinReconnectInterval time.Duration
	// MaxReconnectInterval max wait duration between reconnect attempts
	MaxReconnectInterval time.Duration
	// OnConnectionEvent callback on listener connection state change
	OnConnectionEvent func(pq.ListenerEventType, error)
}

// PostgresClient Postgres notification listener as change feed core
type PostgresClient struct {
	common.Component
	listener *pq.Listener
}

// GetPostgresClient define a new Postgres notification listener core
//
// The pq listener re-establishes its connection and re-issues LISTEN on its
// own, backing off between MinReconnectInterval and MaxReconnectInterval.
func GetPostgresClient(param PostgresConnectParams) (PostgresClient, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "postgres-backend",
	}
	listener := pq.NewListener(
		param.DSN,
		param.MinReconnectInterval,
		param.MaxReconnectInterval,
		param.OnConnectionEvent,
	)
	log.WithFields(logTags).Info("Created Postgres notification listener")
	return PostgresClient{
		Component: common.Component{LogTags: logTags},
		listener:  listener,
	}, nil
}

// Listen start listening on a NOTIFY channel
func (c PostgresClient) Listen(channel string) error {
	if err := c.listener.Listen(channel); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("LISTEN %s failed", channel)
		return err
	}
	log.WithFields(c.LogTags).Infof("Listening on NOTIFY channel %s", channel)
	return nil
}

// NotificationChan fetch the notification delivery channel.
//
// A nil entry signals the listener reconnected and notifications may have
// been lost in between.
func (c PostgresClient) NotificationChan() <-chan *pq.Notification {
	return c.listener.Notify
}

// Ping verify the listener connection is still alive
func (c PostgresClient) Ping() error {
	return c.listener.Ping()
}

// Close close the Postgres listener
func (c PostgresClient) Close() {
	if err := c.listener.Close(); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Postgres listener close failed")
	}
	log.WithFields(c.LogTags).Infof("Closed Postgres listener")
}
