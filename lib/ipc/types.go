// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"

	"github.com/bureau-foundation/deskbroker/lib/codec"
)

// ProtocolVersion is sent in every auth_request. Broker and helper are
// always the same binary, so a mismatch means a stale process.
const ProtocolVersion = 1

// MaxFrameSize bounds a single frame and any decompressed payload.
const MaxFrameSize = 16 << 20

// SessionKeySize is the length of the key issued in auth_response.
const SessionKeySize = 32

// Message types.
const (
	TypeAuthRequest   = "auth_request"
	TypeAuthResponse  = "auth_response"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeCommand       = "command"
	TypeCommandResult = "command_result"
	TypeNotify        = "notify"
	TypeNotifyResult  = "notify_result"
	TypeTrayUpdate    = "tray_update"
	TypeTrayAction    = "tray_action"
	TypeDesktopStart  = "desktop_start"
	TypeDesktopStop   = "desktop_stop"
	TypeDesktopInput  = "desktop_input"
	TypeClipboardGet  = "clipboard_get"
	TypeClipboardSet  = "clipboard_set"
	TypeClipboardData = "clipboard_data"
	TypeCapabilities  = "capabilities"
	TypeSASRequest    = "sas_request"
	TypeSASResponse   = "sas_response"
	TypeDisconnect    = "disconnect"
)

// Scopes granted to a helper at handshake. A scope gates the message
// types the broker will send to that helper.
const (
	ScopeNotify    = "notify"
	ScopeTray      = "tray"
	ScopeClipboard = "clipboard"
	ScopeDesktop   = "desktop"
	ScopeRunAsUser = "run_as_user"
	ScopeAll       = "*"
)

// DefaultScopes is granted when the broker configuration names none.
func DefaultScopes() []string {
	return []string{ScopeNotify, ScopeTray, ScopeClipboard, ScopeDesktop, ScopeRunAsUser}
}

// ScopeFor returns the scope required to send messageType to a helper,
// or "" when the type needs none.
func ScopeFor(messageType string) string {
	switch messageType {
	case TypeNotify:
		return ScopeNotify
	case TypeTrayUpdate:
		return ScopeTray
	case TypeClipboardGet, TypeClipboardSet:
		return ScopeClipboard
	case TypeDesktopStart, TypeDesktopStop, TypeDesktopInput:
		return ScopeDesktop
	case TypeCommand:
		return ScopeRunAsUser
	}
	return ""
}

// Compression tags carried in Envelope.Compression.
const (
	CompressionNone = ""
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// Envelope is one frame on the broker socket.
type Envelope struct {
	// ID correlates a response with its request.
	ID string `cbor:"id"`

	// Seq is assigned by Conn.Send and increases by one per frame in
	// each direction.
	Seq uint64 `cbor:"seq"`

	Type string `cbor:"type"`

	// Payload is the CBOR encoding of the type-specific body.
	Payload codec.RawMessage `cbor:"payload,omitempty"`

	// Compressed replaces Payload on the wire when the body was
	// compressed with the algorithm named by Compression. Receive
	// restores Payload before returning.
	Compressed  []byte `cbor:"compressed,omitempty"`
	Compression string `cbor:"compression,omitempty"`

	// RawSize is the uncompressed payload length when Compression is set.
	RawSize uint32 `cbor:"raw_size,omitempty"`

	Error string `cbor:"error,omitempty"`

	// MAC is HMAC-SHA256 over the envelope encoded with MAC empty.
	MAC []byte `cbor:"mac,omitempty"`
}

// DecodePayload decodes the payload of envelope into a T.
func DecodePayload[T any](envelope *Envelope) (T, error) {
	var value T
	if len(envelope.Payload) == 0 {
		return value, fmt.Errorf("ipc: %s message has no payload", envelope.Type)
	}
	if err := codec.Unmarshal(envelope.Payload, &value); err != nil {
		return value, fmt.Errorf("ipc: decoding %s payload: %w", envelope.Type, err)
	}
	return value, nil
}

// AuthRequest is the helper's first frame.
type AuthRequest struct {
	ProtocolVersion int `cbor:"protocol_version"`

	// UID is the claimed numeric user id. Ignored on Windows.
	UID uint32 `cbor:"uid"`

	// SID is the claimed Windows security identifier. Required on
	// Windows, empty elsewhere.
	SID string `cbor:"sid,omitempty"`

	Username   string `cbor:"username"`
	SessionID  string `cbor:"session_id"`
	DisplayEnv string `cbor:"display_env,omitempty"`
	PID        int    `cbor:"pid"`

	// BinaryHash is the hex BLAKE3 digest of the helper's executable.
	BinaryHash string `cbor:"binary_hash"`

	// WinSessionID is the Terminal Services session the helper runs in.
	WinSessionID uint32 `cbor:"win_session_id,omitempty"`
}

// AuthResponse answers an AuthRequest.
type AuthResponse struct {
	Accepted      bool     `cbor:"accepted"`
	Reason        string   `cbor:"reason,omitempty"`
	SessionKey    []byte   `cbor:"session_key,omitempty"`
	AllowedScopes []string `cbor:"allowed_scopes,omitempty"`
	AgentID       string   `cbor:"agent_id,omitempty"`
}

// Capabilities is announced by the helper right after the handshake.
// It is also part of the session snapshot printed as JSON.
type Capabilities struct {
	SupportsNotify    bool   `json:"supports_notify"`
	SupportsTray      bool   `json:"supports_tray"`
	SupportsCapture   bool   `json:"supports_capture"`
	SupportsClipboard bool   `json:"supports_clipboard"`
	DisplayServer     string `json:"display_server,omitempty"`
}

// Command asks the helper to run something in the user's context.
// Type selects between script execution and the desktop tools.
type Command struct {
	CommandID string           `cbor:"command_id"`
	Type      string           `cbor:"type"`
	Payload   codec.RawMessage `cbor:"payload,omitempty"`
}

// Command types with direct desktop access, handled by the helper's
// tool runner instead of the script executor.
const (
	CommandRunScript      = "run_script"
	CommandTakeScreenshot = "take_screenshot"
	CommandComputerAction = "computer_action"
)

// ScriptRequest is the payload of a run_script command.
type ScriptRequest struct {
	Language       string `cbor:"language,omitempty"`
	Content        string `cbor:"content"`
	TimeoutSeconds int    `cbor:"timeout_seconds,omitempty"`
}

// ScriptOutput is the result of a run_script command.
type ScriptOutput struct {
	ExitCode int    `cbor:"exit_code"`
	Stdout   string `cbor:"stdout,omitempty"`
	Stderr   string `cbor:"stderr,omitempty"`
}

// Command result statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// CommandResult answers a Command.
type CommandResult struct {
	CommandID string           `cbor:"command_id"`
	Status    string           `cbor:"status"`
	Result    codec.RawMessage `cbor:"result,omitempty"`
	Error     string           `cbor:"error,omitempty"`
}

// NotifyRequest asks the helper to show a desktop notification.
type NotifyRequest struct {
	Title   string   `cbor:"title"`
	Body    string   `cbor:"body,omitempty"`
	Icon    string   `cbor:"icon,omitempty"`
	Urgency string   `cbor:"urgency,omitempty"`
	Actions []string `cbor:"actions,omitempty"`
}

// Notification urgencies.
const (
	UrgencyLow      = "low"
	UrgencyNormal   = "normal"
	UrgencyCritical = "critical"
)

// NotifyResult answers a NotifyRequest.
type NotifyResult struct {
	Delivered     bool   `cbor:"delivered"`
	ActionClicked string `cbor:"action_clicked,omitempty"`
}

// TrayMenuItem is one entry in the tray menu.
type TrayMenuItem struct {
	ID      string `cbor:"id"`
	Label   string `cbor:"label"`
	Enabled bool   `cbor:"enabled"`
}

// TrayUpdate replaces the helper's tray state.
type TrayUpdate struct {
	Status    string         `cbor:"status"`
	Tooltip   string         `cbor:"tooltip,omitempty"`
	MenuItems []TrayMenuItem `cbor:"menu_items,omitempty"`
}

// TrayAction reports a tray menu click to the daemon.
type TrayAction struct {
	ItemID string `cbor:"item_id"`
}

// ICEServer is one STUN or TURN server offered to the desktop session.
type ICEServer struct {
	URLs       []string `cbor:"urls"`
	Username   string   `cbor:"username,omitempty"`
	Credential string   `cbor:"credential,omitempty"`
}

// DesktopStartRequest relays a remote-desktop offer to the helper.
type DesktopStartRequest struct {
	SessionID    string      `cbor:"session_id"`
	Offer        string      `cbor:"offer"`
	ICEServers   []ICEServer `cbor:"ice_servers,omitempty"`
	DisplayIndex int         `cbor:"display_index,omitempty"`
}

// DesktopStartResponse carries the helper's SDP answer.
type DesktopStartResponse struct {
	SessionID string `cbor:"session_id"`
	Answer    string `cbor:"answer"`
}

// DesktopStopRequest ends one desktop session.
type DesktopStopRequest struct {
	SessionID string `cbor:"session_id"`
}

// DesktopStopResponse acknowledges a DesktopStopRequest.
type DesktopStopResponse struct {
	Stopped bool `cbor:"stopped"`
}

// DesktopInput forwards one input event to a desktop session.
type DesktopInput struct {
	SessionID string           `cbor:"session_id"`
	Event     codec.RawMessage `cbor:"event"`
}

// ClipboardContent is the payload of clipboard_set and clipboard_data.
type ClipboardContent struct {
	Text  string `cbor:"text,omitempty"`
	Image []byte `cbor:"image,omitempty"`
}

// SASRequest asks the daemon to invoke the secure attention sequence
// in a Windows session.
type SASRequest struct {
	WinSessionID uint32 `cbor:"win_session_id"`
}

// SASResponse answers a SASRequest.
type SASResponse struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
}

// Disconnect is the optional payload of a disconnect frame.
type Disconnect struct {
	Reason string `cbor:"reason,omitempty"`
}
