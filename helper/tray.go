// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

// LogTray is a TrayManager with no icon: it records the latest state
// and logs each change. Used where no native tray is available.
type LogTray struct {
	logger *slog.Logger

	mu      sync.Mutex
	state   ipc.TrayUpdate
	handler func(itemID string)
}

// NewLogTray returns a LogTray logging to logger.
func NewLogTray(logger *slog.Logger) *LogTray {
	return &LogTray{logger: logger}
}

func (t *LogTray) Update(update ipc.TrayUpdate) error {
	t.mu.Lock()
	t.state = update
	t.state.MenuItems = slices.Clone(update.MenuItems)
	t.mu.Unlock()
	t.logger.Info("tray state", "status", update.Status, "tooltip", update.Tooltip, "menu_items", len(update.MenuItems))
	return nil
}

func (t *LogTray) SetActionHandler(handler func(itemID string)) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

// State returns the last applied update.
func (t *LogTray) State() ipc.TrayUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.state
	state.MenuItems = slices.Clone(t.state.MenuItems)
	return state
}

// Activate reports a click on itemID as if the user had chosen it.
// Disabled and unknown items are ignored.
func (t *LogTray) Activate(itemID string) bool {
	t.mu.Lock()
	handler := t.handler
	index := slices.IndexFunc(t.state.MenuItems, func(item ipc.TrayMenuItem) bool {
		return item.ID == itemID && item.Enabled
	})
	t.mu.Unlock()
	if handler == nil || index < 0 {
		return false
	}
	handler(itemID)
	return true
}
