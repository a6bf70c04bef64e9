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
)

// RawChangeData the changed row, as published by the row-change trigger.
// INSERT carries only New, DELETE only Old, UPDATE both.
type RawChangeData struct {
	// New is the row after the change
	New json.RawMessage `json:"new,omitempty"`
	// Old is the row before the change
	Old json.RawMessage `json:"old,omitempty"`
}

// RawChange one row-level change notification from the upstream store
type RawChange struct {
	// Table is the table the changed row belongs to
	Table string `json:"table" validate:"required"`
	// Action is the row change type
	Action string `json:"action" validate:"required,oneof=INSERT UPDATE DELETE"`
	// Data is the changed row
	Data RawChangeData `json:"data"`
}

// ChangeHandler is the function signature for callback processing one raw change
type ChangeHandler func(ctxt context.Context, change RawChange)

// ChangeSource is one upstream transport for the row-change feed.
//
// A source owns its own reconnect behavior; a subscription established by
// StartFeed lives until the source's root context ends.
type ChangeSource interface {
	// StartFeed start receiving raw change notifications
	StartFeed(wg *sync.WaitGroup, handler ChangeHandler) error
}
