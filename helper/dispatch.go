// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/deskbroker/lib/codec"
	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

type handlerFunc func(ctx context.Context, conn *ipc.Conn, envelope *ipc.Envelope)

func (c *Client) handlerFor(messageType string) handlerFunc {
	switch messageType {
	case ipc.TypeCommand:
		return c.handleCommand
	case ipc.TypeNotify:
		return c.handleNotify
	case ipc.TypeTrayUpdate:
		return c.handleTrayUpdate
	case ipc.TypeDesktopStart:
		return c.handleDesktopStart
	case ipc.TypeDesktopStop:
		return c.handleDesktopStop
	case ipc.TypeDesktopInput:
		return c.handleDesktopInput
	case ipc.TypeClipboardGet:
		return c.handleClipboardGet
	case ipc.TypeClipboardSet:
		return c.handleClipboardSet
	}
	return nil
}

func (c *Client) handleCommand(ctx context.Context, conn *ipc.Conn, envelope *ipc.Envelope) {
	command, err := ipc.DecodePayload[ipc.Command](envelope)
	if err != nil {
		c.reply(conn, envelope.ID, ipc.TypeCommandResult, failedResult(envelope.ID, "invalid command payload: %v", err))
		return
	}
	if command.CommandID == "" {
		command.CommandID = envelope.ID
	}

	var result ipc.CommandResult
	switch command.Type {
	case ipc.CommandTakeScreenshot, ipc.CommandComputerAction:
		result = c.runTool(ctx, command)
	default:
		result = c.runScript(ctx, command)
	}
	c.logger.Debug("command finished", "command_id", command.CommandID, "type", command.Type, "status", result.Status)
	err = conn.SendMessage(envelope.ID, ipc.TypeCommandResult, result)
	if errors.Is(err, ipc.ErrFrameSize) {
		// The broker is still waiting on this id; answer it with a failure.
		c.logger.Warn("command result too large to send", "command_id", command.CommandID, "type", command.Type)
		c.reply(conn, envelope.ID, ipc.TypeCommandResult, failedResult(command.CommandID, "result exceeds frame limit"))
		return
	}
	if err != nil {
		c.logSendFailure(ipc.TypeCommandResult, envelope.ID, err)
	}
}

func failedResult(commandID, format string, args ...any) ipc.CommandResult {
	return ipc.CommandResult{
		CommandID: commandID,
		Status:    ipc.StatusFailed,
		Error:     fmt.Sprintf(format, args...),
	}
}

func (c *Client) runScript(ctx context.Context, command ipc.Command) ipc.CommandResult {
	if c.config.Scripts == nil {
		return failedResult(command.CommandID, "script execution not available in this helper")
	}
	if len(command.Payload) == 0 {
		return failedResult(command.CommandID, "missing script payload")
	}
	var request ipc.ScriptRequest
	if err := codec.Unmarshal(command.Payload, &request); err != nil {
		return failedResult(command.CommandID, "invalid script payload: %v", err)
	}
	if request.Language == "" {
		request.Language = DefaultScriptLanguage
	}
	if request.TimeoutSeconds <= 0 {
		request.TimeoutSeconds = DefaultScriptTimeoutSeconds
	}

	outcome, err := c.config.Scripts.Execute(ctx, request.Language, request.Content, request.TimeoutSeconds)
	if err != nil {
		return failedResult(command.CommandID, "%v", err)
	}
	output, err := codec.Marshal(ipc.ScriptOutput{
		ExitCode: outcome.ExitCode,
		Stdout:   outcome.Stdout,
		Stderr:   outcome.Stderr,
	})
	if err != nil {
		return failedResult(command.CommandID, "encoding script output: %v", err)
	}
	status := ipc.StatusCompleted
	if outcome.ExitCode != 0 || outcome.Error != "" {
		status = ipc.StatusFailed
	}
	return ipc.CommandResult{
		CommandID: command.CommandID,
		Status:    status,
		Result:    output,
		Error:     outcome.Error,
	}
}

func (c *Client) runTool(ctx context.Context, command ipc.Command) ipc.CommandResult {
	if c.config.Tools == nil {
		return failedResult(command.CommandID, "%s not available in this helper", command.Type)
	}
	result, err := c.config.Tools.Run(ctx, command.Type, command.Payload)
	if err != nil {
		return failedResult(command.CommandID, "%v", err)
	}
	result.CommandID = command.CommandID
	if result.Status == "" {
		result.Status = ipc.StatusCompleted
	}
	return result
}

func (c *Client) handleNotify(ctx context.Context, conn *ipc.Conn, envelope *ipc.Envelope) {
	request, err := ipc.DecodePayload[ipc.NotifyRequest](envelope)
	if err != nil {
		c.replyError(conn, envelope.ID, ipc.TypeNotifyResult, err.Error())
		return
	}
	if c.config.Notifier == nil {
		c.replyError(conn, envelope.ID, ipc.TypeNotifyResult, "notifications not available in this helper")
		return
	}

	// Notification text is plain; escape sequences are dropped.
	request.Title = ansi.Strip(request.Title)
	request.Body = ansi.Strip(request.Body)
	for i, action := range request.Actions {
		request.Actions[i] = ansi.Strip(action)
	}

	result, err := c.config.Notifier.Notify(ctx, request)
	if err != nil {
		c.logger.Warn("notification failed", "error", err)
		c.reply(conn, envelope.ID, ipc.TypeNotifyResult, ipc.NotifyResult{Delivered: false})
		return
	}
	c.reply(conn, envelope.ID, ipc.TypeNotifyResult, result)
}

func (c *Client) handleTrayUpdate(_ context.Context, _ *ipc.Conn, envelope *ipc.Envelope) {
	update, err := ipc.DecodePayload[ipc.TrayUpdate](envelope)
	if err != nil {
		c.logger.Warn("invalid tray_update", "error", err)
		return
	}
	if c.config.Tray == nil {
		c.logger.Debug("tray_update ignored, no tray manager")
		return
	}
	update.Status = ansi.Strip(update.Status)
	update.Tooltip = ansi.Strip(update.Tooltip)
	for i := range update.MenuItems {
		update.MenuItems[i].Label = ansi.Strip(update.MenuItems[i].Label)
	}
	if err := c.config.Tray.Update(update); err != nil {
		c.logger.Warn("tray update failed", "error", err)
	}
}

func (c *Client) handleClipboardGet(ctx context.Context, conn *ipc.Conn, envelope *ipc.Envelope) {
	if c.config.Clipboard == nil {
		c.replyError(conn, envelope.ID, ipc.TypeClipboardData, "clipboard not available in this helper")
		return
	}
	content, err := c.config.Clipboard.Read(ctx)
	if err != nil {
		c.replyError(conn, envelope.ID, ipc.TypeClipboardData, err.Error())
		return
	}
	c.reply(conn, envelope.ID, ipc.TypeClipboardData, content)
}

func (c *Client) handleClipboardSet(ctx context.Context, conn *ipc.Conn, envelope *ipc.Envelope) {
	content, err := ipc.DecodePayload[ipc.ClipboardContent](envelope)
	if err != nil {
		c.replyError(conn, envelope.ID, ipc.TypeClipboardSet, err.Error())
		return
	}
	if c.config.Clipboard == nil {
		c.replyError(conn, envelope.ID, ipc.TypeClipboardSet, "clipboard not available in this helper")
		return
	}
	if err := c.config.Clipboard.Write(ctx, content); err != nil {
		c.replyError(conn, envelope.ID, ipc.TypeClipboardSet, err.Error())
		return
	}
	c.reply(conn, envelope.ID, ipc.TypeClipboardSet, nil)
}
