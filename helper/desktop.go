// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

// validateDesktopStart checks the offer is a parseable SDP and converts
// the ICE servers to their webrtc form, rejecting URLs that are not
// stun:, stuns:, turn:, or turns: URIs.
func validateDesktopStart(request ipc.DesktopStartRequest) ([]webrtc.ICEServer, error) {
	if request.SessionID == "" {
		return nil, errors.New("desktop_start without session id")
	}
	if request.DisplayIndex < 0 {
		return nil, fmt.Errorf("display index %d out of range", request.DisplayIndex)
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: request.Offer}
	if _, err := offer.Unmarshal(); err != nil {
		return nil, fmt.Errorf("invalid SDP offer: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(request.ICEServers))
	for _, server := range request.ICEServers {
		if len(server.URLs) == 0 {
			return nil, errors.New("ICE server without URLs")
		}
		for _, url := range server.URLs {
			uri, err := stun.ParseURI(url)
			if err != nil {
				return nil, fmt.Errorf("invalid ICE server URL %q: %w", url, err)
			}
			if (uri.Scheme == stun.SchemeTypeTURN || uri.Scheme == stun.SchemeTypeTURNS) && server.Username == "" {
				return nil, fmt.Errorf("TURN server %q needs credentials", url)
			}
		}
		converted := webrtc.ICEServer{
			URLs:     append([]string(nil), server.URLs...),
			Username: server.Username,
		}
		if server.Credential != "" {
			converted.Credential = server.Credential
			converted.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, converted)
	}
	return servers, nil
}

func (c *Client) handleDesktopStart(_ context.Context, conn *ipc.Conn, envelope *ipc.Envelope) {
	request, err := ipc.DecodePayload[ipc.DesktopStartRequest](envelope)
	if err != nil {
		c.replyError(conn, envelope.ID, ipc.TypeDesktopStart, err.Error())
		return
	}
	if c.config.Desktop == nil {
		c.replyError(conn, envelope.ID, ipc.TypeDesktopStart, "remote desktop not available in this helper")
		return
	}
	servers, err := validateDesktopStart(request)
	if err != nil {
		c.logger.Warn("desktop_start rejected", "desktop_session", request.SessionID, "error", err)
		c.replyError(conn, envelope.ID, ipc.TypeDesktopStart, err.Error())
		return
	}

	c.logger.Info("starting desktop session",
		"desktop_session", request.SessionID,
		"display_index", request.DisplayIndex,
		"ice_servers", len(servers),
	)
	answer, err := c.config.Desktop.StartSession(request.SessionID, request.Offer, servers, request.DisplayIndex)
	if err != nil {
		c.logger.Warn("desktop session start failed", "desktop_session", request.SessionID, "error", err)
		c.replyError(conn, envelope.ID, ipc.TypeDesktopStart, err.Error())
		return
	}
	response := ipc.DesktopStartResponse{SessionID: request.SessionID, Answer: answer}
	if err := conn.SendMessage(envelope.ID, ipc.TypeDesktopStart, response); err != nil {
		// Nobody will ever receive the answer.
		c.logSendFailure(ipc.TypeDesktopStart, envelope.ID, err)
		c.config.Desktop.StopSession(request.SessionID)
	}
}

func (c *Client) handleDesktopStop(_ context.Context, conn *ipc.Conn, envelope *ipc.Envelope) {
	request, err := ipc.DecodePayload[ipc.DesktopStopRequest](envelope)
	if err != nil {
		c.replyError(conn, envelope.ID, ipc.TypeDesktopStop, err.Error())
		return
	}
	if c.config.Desktop != nil {
		c.logger.Info("stopping desktop session", "desktop_session", request.SessionID)
		c.config.Desktop.StopSession(request.SessionID)
	}
	c.reply(conn, envelope.ID, ipc.TypeDesktopStop, ipc.DesktopStopResponse{Stopped: true})
}

func (c *Client) handleDesktopInput(_ context.Context, _ *ipc.Conn, envelope *ipc.Envelope) {
	input, err := ipc.DecodePayload[ipc.DesktopInput](envelope)
	if err != nil {
		c.logger.Debug("invalid desktop_input", "error", err)
		return
	}
	if c.config.Desktop == nil {
		return
	}
	if err := c.config.Desktop.HandleInput(input.SessionID, input.Event); err != nil {
		c.logger.Debug("desktop input dropped", "desktop_session", input.SessionID, "error", err)
	}
}
