// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/deskbroker/lib/binhash"
	"github.com/bureau-foundation/deskbroker/lib/clock"
	"github.com/bureau-foundation/deskbroker/lib/codec"
	"github.com/bureau-foundation/deskbroker/lib/ipc"
	"github.com/bureau-foundation/deskbroker/lib/testutil"
)

var testClockEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var testSessionKey = bytes.Repeat([]byte{0x42}, ipc.SessionKeySize)

// clientHarness runs a Client against an in-memory broker end driven
// directly by the test.
type clientHarness struct {
	client     *Client
	clock      *clock.FakeClock
	broker     *ipc.Conn
	executable string
	getenv     func(string) string

	finished chan struct{}
	runErr   error
}

func newClientHarness(t *testing.T, configure func(*Config)) *clientHarness {
	t.Helper()
	helperEnd, brokerEnd := net.Pipe()
	brokerEnd.SetDeadline(time.Now().Add(10 * time.Second)) //nolint:realclock test hang prevention

	environment := map[string]string{"WAYLAND_DISPLAY": "wayland-0"}
	h := &clientHarness{
		clock:      clock.Fake(testClockEpoch),
		broker:     ipc.NewConn(brokerEnd, ipc.RoleBroker, ipc.Options{}),
		executable: testutil.FakeExecutable(t, t.TempDir(), "bureau-deskbroker", "helper build 1"),
		finished:   make(chan struct{}),
	}
	config := Config{
		Address: "test",
		Dial: func(context.Context, string) (net.Conn, error) {
			return helperEnd, nil
		},
		Identity: func() (Identity, error) {
			return Identity{UID: 501, Username: "alice"}, nil
		},
		ExecutablePath: h.executable,
		Getenv:         func(key string) string { return environment[key] },
		SessionID:      "helper-test",
		Clock:          h.clock,
	}
	if configure != nil {
		configure(&config)
	}
	h.getenv = config.Getenv
	h.client = New(config)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		h.runErr = h.client.Run(ctx)
		close(h.finished)
	}()
	t.Cleanup(func() {
		cancel()
		h.broker.Close()
		h.client.Stop()
		testutil.RequireClosed(t, h.finished, 5*time.Second, "Run did not return")
	})
	return h
}

// wait returns Run's result.
func (h *clientHarness) wait(t *testing.T) error {
	t.Helper()
	testutil.RequireClosed(t, h.finished, 5*time.Second, "Run did not return")
	return h.runErr
}

// accept answers the auth_request and consumes the capabilities frame.
func (h *clientHarness) accept(t *testing.T) (ipc.AuthRequest, ipc.Capabilities) {
	t.Helper()
	envelope := h.expect(t, ipc.TypeAuthRequest)
	request, err := ipc.DecodePayload[ipc.AuthRequest](envelope)
	if err != nil {
		t.Fatalf("decoding auth_request: %v", err)
	}
	response := ipc.AuthResponse{
		Accepted:      true,
		SessionKey:    bytes.Clone(testSessionKey),
		AllowedScopes: ipc.DefaultScopes(),
		AgentID:       "agent-7",
	}
	h.send(t, envelope.ID, ipc.TypeAuthResponse, response)
	if err := h.broker.SetSessionKey(testSessionKey); err != nil {
		t.Fatalf("SetSessionKey: %v", err)
	}

	capabilities, err := ipc.DecodePayload[ipc.Capabilities](h.expect(t, ipc.TypeCapabilities))
	if err != nil {
		t.Fatalf("decoding capabilities: %v", err)
	}
	return request, capabilities
}

func (h *clientHarness) send(t *testing.T, id, messageType string, payload any) {
	t.Helper()
	if err := h.broker.SendMessage(id, messageType, payload); err != nil {
		t.Fatalf("sending %s: %v", messageType, err)
	}
}

func (h *clientHarness) expect(t *testing.T, messageType string) *ipc.Envelope {
	t.Helper()
	envelope, err := h.broker.Receive()
	if err != nil {
		t.Fatalf("waiting for %s: %v", messageType, err)
	}
	if envelope.Type != messageType {
		t.Fatalf("received %q (error %q), want %q", envelope.Type, envelope.Error, messageType)
	}
	return envelope
}

func decode[T any](t *testing.T, envelope *ipc.Envelope) T {
	t.Helper()
	value, err := ipc.DecodePayload[T](envelope)
	if err != nil {
		t.Fatalf("decoding %s: %v", envelope.Type, err)
	}
	return value
}

func mustMarshal(t *testing.T, value any) codec.RawMessage {
	t.Helper()
	data, err := codec.Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return data
}

func TestClientHandshake(t *testing.T) {
	h := newClientHarness(t, nil)
	request, capabilities := h.accept(t)

	digest, err := binhash.HashFile(h.executable)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	displayEnv := DetectDisplayEnv(h.getenv)

	if request.ProtocolVersion != ipc.ProtocolVersion {
		t.Errorf("ProtocolVersion = %d, want %d", request.ProtocolVersion, ipc.ProtocolVersion)
	}
	if request.UID != 501 || request.Username != "alice" {
		t.Errorf("claimed %d/%q, want 501/alice", request.UID, request.Username)
	}
	if request.SessionID != "helper-test" {
		t.Errorf("SessionID = %q, want helper-test", request.SessionID)
	}
	if request.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", request.PID, os.Getpid())
	}
	if request.BinaryHash != binhash.FormatDigest(digest) {
		t.Errorf("BinaryHash = %q, want %q", request.BinaryHash, binhash.FormatDigest(digest))
	}
	if request.DisplayEnv != displayEnv {
		t.Errorf("DisplayEnv = %q, want %q", request.DisplayEnv, displayEnv)
	}
	if capabilities != DetectCapabilities(displayEnv) {
		t.Errorf("capabilities = %+v, want %+v", capabilities, DetectCapabilities(displayEnv))
	}

	// Capabilities are sent after the response is applied.
	if got := h.client.AgentID(); got != "agent-7" {
		t.Errorf("AgentID = %q, want agent-7", got)
	}
	if got := h.client.Scopes(); !slices.Equal(got, ipc.DefaultScopes()) {
		t.Errorf("Scopes = %v, want %v", got, ipc.DefaultScopes())
	}
}

func TestClientRejected(t *testing.T) {
	h := newClientHarness(t, nil)
	envelope := h.expect(t, ipc.TypeAuthRequest)
	h.send(t, envelope.ID, ipc.TypeAuthResponse, ipc.AuthResponse{Accepted: false, Reason: "UID mismatch"})

	err := h.wait(t)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Run = %v, want ErrRejected", err)
	}
	if !strings.Contains(err.Error(), "UID mismatch") {
		t.Errorf("error %q does not carry the broker's reason", err)
	}
	if h.client.AgentID() != "" {
		t.Errorf("AgentID set after rejection: %q", h.client.AgentID())
	}
}

func TestClientAnswersPing(t *testing.T) {
	h := newClientHarness(t, nil)
	h.accept(t)

	h.send(t, "ping-1", ipc.TypePing, nil)
	if pong := h.expect(t, ipc.TypePong); pong.ID != "ping-1" {
		t.Errorf("pong id = %q, want ping-1", pong.ID)
	}
}

type fakeScripts struct {
	mu     sync.Mutex
	calls  []scriptCall
	result ScriptResult
	err    error
}

type scriptCall struct {
	language string
	content  string
	timeout  int
}

func (f *fakeScripts) Execute(_ context.Context, language, content string, timeoutSeconds int) (ScriptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scriptCall{language, content, timeoutSeconds})
	return f.result, f.err
}

func (f *fakeScripts) lastCall() scriptCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return scriptCall{}
	}
	return f.calls[len(f.calls)-1]
}

func TestClientRunsScripts(t *testing.T) {
	tests := []struct {
		name         string
		request      ipc.ScriptRequest
		result       ScriptResult
		err          error
		wantCall     scriptCall
		wantStatus   string
		wantError    string
		wantOutput   bool
		wantExitCode int
	}{
		{
			name:       "defaults applied",
			request:    ipc.ScriptRequest{Content: "echo hi"},
			result:     ScriptResult{Stdout: "hi\n"},
			wantCall:   scriptCall{"bash", "echo hi", 300},
			wantStatus: ipc.StatusCompleted,
			wantOutput: true,
		},
		{
			name:         "non-zero exit fails",
			request:      ipc.ScriptRequest{Language: "python", Content: "exit(4)", TimeoutSeconds: 20},
			result:       ScriptResult{ExitCode: 4, Stderr: "boom"},
			wantCall:     scriptCall{"python", "exit(4)", 20},
			wantStatus:   ipc.StatusFailed,
			wantOutput:   true,
			wantExitCode: 4,
		},
		{
			name:         "timeout fails",
			request:      ipc.ScriptRequest{Content: "sleep 999", TimeoutSeconds: 1},
			result:       ScriptResult{ExitCode: -1, Error: "script timed out after 1s"},
			wantCall:     scriptCall{"bash", "sleep 999", 1},
			wantStatus:   ipc.StatusFailed,
			wantError:    "script timed out after 1s",
			wantOutput:   true,
			wantExitCode: -1,
		},
		{
			name:       "executor error",
			request:    ipc.ScriptRequest{Language: "cobol", Content: "x"},
			err:        errors.New(`unsupported script language "cobol"`),
			wantCall:   scriptCall{"cobol", "x", 300},
			wantStatus: ipc.StatusFailed,
			wantError:  `unsupported script language "cobol"`,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			scripts := &fakeScripts{result: test.result, err: test.err}
			h := newClientHarness(t, func(config *Config) { config.Scripts = scripts })
			h.accept(t)

			h.send(t, "cmd-1", ipc.TypeCommand, ipc.Command{
				CommandID: "cmd-1",
				Type:      ipc.CommandRunScript,
				Payload:   mustMarshal(t, test.request),
			})
			reply := h.expect(t, ipc.TypeCommandResult)
			result := decode[ipc.CommandResult](t, reply)

			if reply.ID != "cmd-1" || result.CommandID != "cmd-1" {
				t.Errorf("reply ids = %q/%q, want cmd-1", reply.ID, result.CommandID)
			}
			if got := scripts.lastCall(); got != test.wantCall {
				t.Errorf("executor called with %+v, want %+v", got, test.wantCall)
			}
			if result.Status != test.wantStatus {
				t.Errorf("Status = %q, want %q", result.Status, test.wantStatus)
			}
			if result.Error != test.wantError {
				t.Errorf("Error = %q, want %q", result.Error, test.wantError)
			}
			if !test.wantOutput {
				if len(result.Result) != 0 {
					t.Errorf("unexpected result payload")
				}
				return
			}
			var output ipc.ScriptOutput
			if err := codec.Unmarshal(result.Result, &output); err != nil {
				t.Fatalf("decoding script output: %v", err)
			}
			if output.ExitCode != test.wantExitCode || output.Stdout != test.result.Stdout || output.Stderr != test.result.Stderr {
				t.Errorf("output = %+v, want exit %d stdout %q stderr %q",
					output, test.wantExitCode, test.result.Stdout, test.result.Stderr)
			}
		})
	}
}

type fakeTools struct {
	mu    sync.Mutex
	types []string
}

func (f *fakeTools) Run(_ context.Context, commandType string, _ codec.RawMessage) (ipc.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, commandType)
	return ipc.CommandResult{Result: codec.RawMessage{0xf5}}, nil
}

func TestClientRoutesDesktopTools(t *testing.T) {
	tools := &fakeTools{}
	scripts := &fakeScripts{}
	h := newClientHarness(t, func(config *Config) {
		config.Tools = tools
		config.Scripts = scripts
	})
	h.accept(t)

	h.send(t, "cmd-1", ipc.TypeCommand, ipc.Command{CommandID: "shot-1", Type: ipc.CommandTakeScreenshot})
	result := decode[ipc.CommandResult](t, h.expect(t, ipc.TypeCommandResult))
	if result.CommandID != "shot-1" || result.Status != ipc.StatusCompleted {
		t.Errorf("result = %+v, want shot-1 completed", result)
	}
	tools.mu.Lock()
	defer tools.mu.Unlock()
	if !slices.Equal(tools.types, []string{ipc.CommandTakeScreenshot}) {
		t.Errorf("tool runner saw %v", tools.types)
	}
	if scripts.lastCall() != (scriptCall{}) {
		t.Errorf("script executor ran for a tool command")
	}
}

// oversizedTools returns a result whose frame cannot fit under
// ipc.MaxFrameSize.
type oversizedTools struct{}

func (oversizedTools) Run(context.Context, string, codec.RawMessage) (ipc.CommandResult, error) {
	blob, err := codec.Marshal(make([]byte, ipc.MaxFrameSize))
	if err != nil {
		return ipc.CommandResult{}, err
	}
	return ipc.CommandResult{Result: blob}, nil
}

func TestClientOversizedResultFailsFast(t *testing.T) {
	h := newClientHarness(t, func(config *Config) {
		config.Tools = oversizedTools{}
	})
	h.accept(t)

	h.send(t, "cmd-1", ipc.TypeCommand, ipc.Command{CommandID: "shot-1", Type: ipc.CommandTakeScreenshot})
	envelope := h.expect(t, ipc.TypeCommandResult)
	if envelope.ID != "cmd-1" {
		t.Errorf("reply id = %q, want cmd-1", envelope.ID)
	}
	result := decode[ipc.CommandResult](t, envelope)
	if result.CommandID != "shot-1" || result.Status != ipc.StatusFailed {
		t.Errorf("result = %+v, want shot-1 failed", result)
	}
	if !strings.Contains(result.Error, "exceeds frame limit") {
		t.Errorf("Error = %q, want frame limit failure", result.Error)
	}
}

func TestClientCommandWithoutBackend(t *testing.T) {
	h := newClientHarness(t, nil)
	h.accept(t)

	h.send(t, "cmd-1", ipc.TypeCommand, ipc.Command{CommandID: "act-1", Type: ipc.CommandComputerAction})
	result := decode[ipc.CommandResult](t, h.expect(t, ipc.TypeCommandResult))
	if result.Status != ipc.StatusFailed || !strings.Contains(result.Error, "not available") {
		t.Errorf("result = %+v, want failed not available", result)
	}
}

type fakeNotifier struct {
	requests chan ipc.NotifyRequest
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, request ipc.NotifyRequest) (ipc.NotifyResult, error) {
	f.requests <- request
	if f.err != nil {
		return ipc.NotifyResult{}, f.err
	}
	return ipc.NotifyResult{Delivered: true, ActionClicked: "open"}, nil
}

func TestClientNotify(t *testing.T) {
	t.Run("strips escape sequences", func(t *testing.T) {
		notifier := &fakeNotifier{requests: make(chan ipc.NotifyRequest, 1)}
		h := newClientHarness(t, func(config *Config) { config.Notifier = notifier })
		h.accept(t)

		h.send(t, "n-1", ipc.TypeNotify, ipc.NotifyRequest{
			Title:   "\x1b[31mBuild failed\x1b[0m",
			Body:    "see \x1b]8;;https://example.com\x07log\x1b]8;;\x07",
			Urgency: ipc.UrgencyCritical,
			Actions: []string{"\x1b[1mopen\x1b[0m"},
		})
		request := testutil.RequireReceive(t, notifier.requests, 5*time.Second, "notification")
		if request.Title != "Build failed" || request.Body != "see log" {
			t.Errorf("notified %q / %q, want stripped text", request.Title, request.Body)
		}
		if !slices.Equal(request.Actions, []string{"open"}) {
			t.Errorf("actions = %q, want [open]", request.Actions)
		}
		if request.Urgency != ipc.UrgencyCritical {
			t.Errorf("Urgency = %q, want critical", request.Urgency)
		}

		reply := h.expect(t, ipc.TypeNotifyResult)
		if result := decode[ipc.NotifyResult](t, reply); !result.Delivered || result.ActionClicked != "open" || reply.ID != "n-1" {
			t.Errorf("reply %q = %+v, want delivered with action open", reply.ID, result)
		}
	})

	t.Run("backend failure reports undelivered", func(t *testing.T) {
		notifier := &fakeNotifier{requests: make(chan ipc.NotifyRequest, 1), err: errors.New("no notification daemon")}
		h := newClientHarness(t, func(config *Config) { config.Notifier = notifier })
		h.accept(t)

		h.send(t, "n-2", ipc.TypeNotify, ipc.NotifyRequest{Title: "hello"})
		if result := decode[ipc.NotifyResult](t, h.expect(t, ipc.TypeNotifyResult)); result.Delivered {
			t.Errorf("Delivered = true after backend failure")
		}
	})

	t.Run("no notifier", func(t *testing.T) {
		h := newClientHarness(t, nil)
		h.accept(t)

		h.send(t, "n-3", ipc.TypeNotify, ipc.NotifyRequest{Title: "hello"})
		if reply := h.expect(t, ipc.TypeNotifyResult); reply.Error == "" {
			t.Errorf("expected an error reply without a notifier")
		}
	})
}

// signallingTray reports each applied update on a channel.
type signallingTray struct {
	*LogTray
	updates chan ipc.TrayUpdate
}

func (s *signallingTray) Update(update ipc.TrayUpdate) error {
	err := s.LogTray.Update(update)
	s.updates <- update
	return err
}

func TestClientTray(t *testing.T) {
	tray := &signallingTray{LogTray: NewLogTray(slog.New(slog.DiscardHandler)), updates: make(chan ipc.TrayUpdate, 1)}
	h := newClientHarness(t, func(config *Config) { config.Tray = tray })
	h.accept(t)

	h.send(t, "tray-update-1", ipc.TypeTrayUpdate, ipc.TrayUpdate{
		Status:  "\x1b[32mconnected\x1b[0m",
		Tooltip: "Bureau",
		MenuItems: []ipc.TrayMenuItem{
			{ID: "open", Label: "Open dashboard", Enabled: true},
			{ID: "pause", Label: "Pause", Enabled: false},
		},
	})
	update := testutil.RequireReceive(t, tray.updates, 5*time.Second, "tray update")
	if update.Status != "connected" {
		t.Errorf("Status = %q, want connected", update.Status)
	}
	if state := tray.State(); len(state.MenuItems) != 2 || state.Tooltip != "Bureau" {
		t.Errorf("tray state = %+v", state)
	}

	if tray.Activate("pause") {
		t.Errorf("disabled item activated")
	}
	// The click handler writes to the broker, so it runs while the
	// broker end reads.
	activated := make(chan bool, 1)
	go func() { activated <- tray.Activate("open") }()
	action := h.expect(t, ipc.TypeTrayAction)
	if !testutil.RequireReceive(t, activated, 5*time.Second, "Activate") {
		t.Errorf("enabled item not activated")
	}
	if action.ID != "tray-1" {
		t.Errorf("tray action id = %q, want tray-1", action.ID)
	}
	if got := decode[ipc.TrayAction](t, action); got.ItemID != "open" {
		t.Errorf("ItemID = %q, want open", got.ItemID)
	}
}

type fakeClipboard struct {
	mu       sync.Mutex
	content  ipc.ClipboardContent
	writeErr error
}

func (f *fakeClipboard) Read(context.Context) (ipc.ClipboardContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content, nil
}

func (f *fakeClipboard) Write(_ context.Context, content ipc.ClipboardContent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.content = content
	return nil
}

func TestClientClipboard(t *testing.T) {
	clipboard := &fakeClipboard{content: ipc.ClipboardContent{Text: "before"}}
	h := newClientHarness(t, func(config *Config) { config.Clipboard = clipboard })
	h.accept(t)

	h.send(t, "get-1", ipc.TypeClipboardGet, nil)
	if data := decode[ipc.ClipboardContent](t, h.expect(t, ipc.TypeClipboardData)); data.Text != "before" {
		t.Errorf("clipboard_data = %q, want before", data.Text)
	}

	h.send(t, "set-1", ipc.TypeClipboardSet, ipc.ClipboardContent{Text: "after"})
	if ack := h.expect(t, ipc.TypeClipboardSet); ack.ID != "set-1" || ack.Error != "" {
		t.Errorf("ack = %q error %q", ack.ID, ack.Error)
	}
	h.send(t, "get-2", ipc.TypeClipboardGet, nil)
	if data := decode[ipc.ClipboardContent](t, h.expect(t, ipc.TypeClipboardData)); data.Text != "after" {
		t.Errorf("clipboard_data = %q, want after", data.Text)
	}

	clipboard.mu.Lock()
	clipboard.writeErr = ErrImageClipboard
	clipboard.mu.Unlock()
	h.send(t, "set-2", ipc.TypeClipboardSet, ipc.ClipboardContent{Image: []byte{0x89, 'P', 'N', 'G'}})
	if ack := h.expect(t, ipc.TypeClipboardSet); ack.Error != ErrImageClipboard.Error() {
		t.Errorf("ack error = %q, want %q", ack.Error, ErrImageClipboard.Error())
	}
}

type fakeDesktop struct {
	mu         sync.Mutex
	started    []string
	servers    []webrtc.ICEServer
	stopped    []string
	stoppedAll int
	inputs     chan string
}

func newFakeDesktop() *fakeDesktop {
	return &fakeDesktop{inputs: make(chan string, 4)}
}

func (f *fakeDesktop) StartSession(sessionID, _ string, servers []webrtc.ICEServer, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, sessionID)
	f.servers = servers
	return "answer-for-" + sessionID, nil
}

func (f *fakeDesktop) StopSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, sessionID)
}

func (f *fakeDesktop) StopAllSessions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stoppedAll++
}

func (f *fakeDesktop) HandleInput(sessionID string, _ codec.RawMessage) error {
	f.inputs <- sessionID
	return nil
}

func (f *fakeDesktop) stopAllCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stoppedAll
}

func TestClientDesktopSessions(t *testing.T) {
	desktop := newFakeDesktop()
	h := newClientHarness(t, func(config *Config) { config.Desktop = desktop })
	h.accept(t)

	h.send(t, "d-1", ipc.TypeDesktopStart, ipc.DesktopStartRequest{
		SessionID: "desk-1",
		Offer:     minimalOffer,
		ICEServers: []ipc.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
			{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"},
		},
	})
	reply := h.expect(t, ipc.TypeDesktopStart)
	if reply.Error != "" {
		t.Fatalf("desktop_start failed: %s", reply.Error)
	}
	if response := decode[ipc.DesktopStartResponse](t, reply); response.Answer != "answer-for-desk-1" || response.SessionID != "desk-1" {
		t.Errorf("response = %+v", response)
	}
	desktop.mu.Lock()
	if len(desktop.servers) != 2 || desktop.servers[1].Credential != "p" {
		t.Errorf("ICE servers passed = %+v", desktop.servers)
	}
	desktop.mu.Unlock()

	h.send(t, "d-2", ipc.TypeDesktopStart, ipc.DesktopStartRequest{SessionID: "desk-2", Offer: "not sdp"})
	if reply := h.expect(t, ipc.TypeDesktopStart); !strings.Contains(reply.Error, "invalid SDP offer") {
		t.Errorf("bad offer reply error = %q", reply.Error)
	}

	h.send(t, "d-3", ipc.TypeDesktopInput, ipc.DesktopInput{SessionID: "desk-1", Event: mustMarshal(t, map[string]int{"x": 1})})
	if got := testutil.RequireReceive(t, desktop.inputs, 5*time.Second, "desktop input"); got != "desk-1" {
		t.Errorf("input for %q, want desk-1", got)
	}

	h.send(t, "d-4", ipc.TypeDesktopStop, ipc.DesktopStopRequest{SessionID: "desk-1"})
	if response := decode[ipc.DesktopStopResponse](t, h.expect(t, ipc.TypeDesktopStop)); !response.Stopped {
		t.Errorf("Stopped = false")
	}
	desktop.mu.Lock()
	defer desktop.mu.Unlock()
	if !slices.Equal(desktop.started, []string{"desk-1"}) || !slices.Equal(desktop.stopped, []string{"desk-1"}) {
		t.Errorf("started %v stopped %v", desktop.started, desktop.stopped)
	}
}

func TestClientRequestSAS(t *testing.T) {
	t.Run("answered", func(t *testing.T) {
		h := newClientHarness(t, nil)
		h.accept(t)

		result := make(chan error, 1)
		go func() { result <- h.client.RequestSAS(context.Background()) }()

		request := h.expect(t, ipc.TypeSASRequest)
		if request.ID != "sas-1" {
			t.Errorf("sas_request id = %q, want sas-1", request.ID)
		}
		h.send(t, request.ID, ipc.TypeSASResponse, ipc.SASResponse{OK: true})
		if err := testutil.RequireReceive(t, result, 5*time.Second, "RequestSAS"); err != nil {
			t.Errorf("RequestSAS = %v", err)
		}
	})

	t.Run("refused", func(t *testing.T) {
		h := newClientHarness(t, nil)
		h.accept(t)

		result := make(chan error, 1)
		go func() { result <- h.client.RequestSAS(context.Background()) }()

		request := h.expect(t, ipc.TypeSASRequest)
		h.send(t, request.ID, ipc.TypeSASResponse, ipc.SASResponse{OK: false, Error: "SendSAS denied"})
		err := testutil.RequireReceive(t, result, 5*time.Second, "RequestSAS")
		if err == nil || !strings.Contains(err.Error(), "SendSAS denied") {
			t.Errorf("RequestSAS = %v, want refusal", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		h := newClientHarness(t, func(config *Config) { config.KeepaliveInterval = time.Hour })
		h.accept(t)

		result := make(chan error, 1)
		go func() { result <- h.client.RequestSAS(context.Background()) }()
		h.expect(t, ipc.TypeSASRequest)

		// Keepalive ticker plus the response timer.
		h.clock.WaitForTimers(2)
		h.clock.Advance(DefaultSASTimeout)
		if err := testutil.RequireReceive(t, result, 5*time.Second, "RequestSAS"); !errors.Is(err, ErrSASTimeout) {
			t.Errorf("RequestSAS = %v, want ErrSASTimeout", err)
		}
	})

	t.Run("not connected", func(t *testing.T) {
		client := New(Config{})
		if err := client.RequestSAS(context.Background()); !errors.Is(err, ErrNotConnected) {
			t.Errorf("RequestSAS = %v, want ErrNotConnected", err)
		}
	})
}

func TestClientKeepalive(t *testing.T) {
	h := newClientHarness(t, nil)
	h.accept(t)
	h.clock.WaitForTimers(1)

	for interval := 1; interval < DefaultMaxMissedKeepalives; interval++ {
		h.clock.Advance(DefaultKeepaliveInterval)
		if ping := h.expect(t, ipc.TypePing); ping.ID != "keepalive" {
			t.Errorf("keepalive ping id = %q", ping.ID)
		}
	}
	h.clock.Advance(DefaultKeepaliveInterval)

	h.expect(t, ipc.TypeDisconnect)
	if err := h.wait(t); !errors.Is(err, ErrPeerUnresponsive) {
		t.Fatalf("Run = %v, want ErrPeerUnresponsive", err)
	}
}

func TestClientBrokerDisconnect(t *testing.T) {
	desktop := newFakeDesktop()
	h := newClientHarness(t, func(config *Config) { config.Desktop = desktop })
	h.accept(t)

	h.send(t, "bye", ipc.TypeDisconnect, ipc.Disconnect{Reason: "broker shutting down"})
	h.expect(t, ipc.TypeDisconnect)
	if err := h.wait(t); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	if desktop.stopAllCount() != 1 {
		t.Errorf("StopAllSessions called %d times, want 1", desktop.stopAllCount())
	}
}

func TestClientBrokerClosesConnection(t *testing.T) {
	h := newClientHarness(t, nil)
	h.accept(t)

	h.broker.Close()
	if err := h.wait(t); err == nil {
		t.Fatalf("Run = nil after the broker vanished")
	}
}

func TestClientStop(t *testing.T) {
	t.Run("during run", func(t *testing.T) {
		desktop := newFakeDesktop()
		h := newClientHarness(t, func(config *Config) { config.Desktop = desktop })
		h.accept(t)

		go h.client.Stop()
		disconnect := decode[ipc.Disconnect](t, h.expect(t, ipc.TypeDisconnect))
		if disconnect.Reason == "" {
			t.Errorf("disconnect without a reason")
		}
		if err := h.wait(t); err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
		h.client.Stop()
		if desktop.stopAllCount() != 1 {
			t.Errorf("StopAllSessions called %d times, want 1", desktop.stopAllCount())
		}
	})

	t.Run("before run", func(t *testing.T) {
		dialed := false
		client := New(Config{
			Dial: func(context.Context, string) (net.Conn, error) {
				dialed = true
				return nil, errors.New("unexpected dial")
			},
		})
		client.Stop()
		client.Stop()
		if err := client.Run(context.Background()); !errors.Is(err, ErrStopped) {
			t.Errorf("Run = %v, want ErrStopped", err)
		}
		if dialed {
			t.Errorf("stopped client dialed the broker")
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		helperEnd, brokerEnd := net.Pipe()
		defer brokerEnd.Close()
		ctx, cancel := context.WithCancel(context.Background())
		client := New(Config{
			Dial: func(context.Context, string) (net.Conn, error) { return helperEnd, nil },
			Identity: func() (Identity, error) {
				return Identity{UID: 501, Username: "alice"}, nil
			},
			ExecutablePath: testutil.FakeExecutable(t, t.TempDir(), "bureau-deskbroker", "helper build 1"),
			Getenv:         func(string) string { return "" },
			Clock:          clock.Fake(testClockEpoch),
		})
		finished := make(chan error, 1)
		go func() { finished <- client.Run(ctx) }()

		// The handshake is in flight when the context ends.
		broker := ipc.NewConn(brokerEnd, ipc.RoleBroker, ipc.Options{})
		if _, err := broker.Receive(); err != nil {
			t.Fatalf("receiving auth_request: %v", err)
		}
		cancel()
		if err := testutil.RequireReceive(t, finished, 5*time.Second, "Run"); err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	})

	t.Run("run twice", func(t *testing.T) {
		h := newClientHarness(t, nil)
		h.accept(t)
		if err := h.client.Run(context.Background()); err == nil {
			t.Errorf("second Run succeeded")
		}
	})
}
