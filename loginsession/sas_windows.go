// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loginsession

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var procSendSAS = windows.NewLazySystemDLL("sas.dll").NewProc("SendSAS")

// SendSecureAttention raises the secure attention sequence
// (Ctrl+Alt+Del) as a service. Windows honors it only when the
// SoftwareSASGeneration policy allows services to generate it.
func SendSecureAttention() error {
	if err := procSendSAS.Find(); err != nil {
		return fmt.Errorf("%w: %w", ErrSASUnsupported, err)
	}
	// SendSAS(AsUser=FALSE) returns nothing; failures are silent.
	procSendSAS.Call(0)
	return nil
}
