// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/deskbroker/lib/secret"
)

var (
	hkdfInfoBrokerToHelper = []byte("bureau.deskbroker.mac.broker-to-helper.v1")
	hkdfInfoHelperToBroker = []byte("bureau.deskbroker.mac.helper-to-broker.v1")
)

// Role says which end of the connection a Conn is. It selects which
// derived key signs outbound frames and which verifies inbound ones.
type Role int

const (
	RoleBroker Role = iota + 1
	RoleHelper
)

func (r Role) String() string {
	switch r {
	case RoleBroker:
		return "broker"
	case RoleHelper:
		return "helper"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// deriveKeys expands the session key into a 64-byte buffer holding
// this side's signing key followed by its verification key.
func deriveKeys(sessionKey []byte, role Role) (*secret.Buffer, error) {
	sendInfo, receiveInfo := hkdfInfoBrokerToHelper, hkdfInfoHelperToBroker
	if role == RoleHelper {
		sendInfo, receiveInfo = receiveInfo, sendInfo
	}

	derived := make([]byte, 2*sha256.Size)
	for index, info := range [][]byte{sendInfo, receiveInfo} {
		reader := hkdf.New(sha256.New, sessionKey, nil, info)
		if _, err := io.ReadFull(reader, derived[index*sha256.Size:(index+1)*sha256.Size]); err != nil {
			secret.Zero(derived)
			return nil, fmt.Errorf("ipc: deriving MAC keys: %w", err)
		}
	}
	return secret.NewFromBytes(derived)
}

func computeMAC(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
