// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

// NewNotifier returns the toast notifier, driven through PowerShell.
func NewNotifier() Notifier { return toastNotifier{} }

type toastNotifier struct{}

// toastScript reads the toast XML from the environment so the content
// never passes through PowerShell parsing.
const toastScript = `[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
$document = [Windows.Data.Xml.Dom.XmlDocument]::new()
$document.LoadXml($env:BUREAU_TOAST_XML)
$toast = [Windows.UI.Notifications.ToastNotification]::new($document)
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("Bureau").Show($toast)`

func (toastNotifier) Notify(ctx context.Context, request ipc.NotifyRequest) (ipc.NotifyResult, error) {
	scenario := ""
	if request.Urgency == ipc.UrgencyCritical {
		scenario = ` scenario="urgent"`
	}
	toast := `<toast` + scenario + `><visual><binding template="ToastGeneric">` +
		`<text>` + escapeXML(request.Title) + `</text>` +
		`<text>` + escapeXML(request.Body) + `</text>` +
		`</binding></visual></toast>`

	env := []string{"BUREAU_TOAST_XML=" + toast}
	if _, err := runTool(ctx, "", env, "powershell", "-NoProfile", "-NonInteractive", "-Command", toastScript); err != nil {
		return ipc.NotifyResult{}, err
	}
	return ipc.NotifyResult{Delivered: true}, nil
}

func escapeXML(text string) string {
	var builder strings.Builder
	if err := xml.EscapeText(&builder, []byte(text)); err != nil {
		return ""
	}
	return builder.String()
}
