// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package helper

import (
	"context"
	"os/exec"
	"strings"
	"testing"
)

func TestShellExecutor(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not on PATH")
	}

	tests := []struct {
		name     string
		executor ShellExecutor
		content  string
		timeout  int
		want     ScriptResult
	}{
		{
			name:    "success",
			content: "echo out\necho err >&2\n",
			timeout: 10,
			want:    ScriptResult{Stdout: "out\n", Stderr: "err\n"},
		},
		{
			name:    "exit code",
			content: "echo partial\nexit 3\n",
			timeout: 10,
			want:    ScriptResult{ExitCode: 3, Stdout: "partial\n"},
		},
		{
			name:     "environment",
			executor: ShellExecutor{Env: []string{"BUREAU_SCRIPT_TEST=present"}},
			content:  `printf '%s' "$BUREAU_SCRIPT_TEST"`,
			timeout:  10,
			want:     ScriptResult{Stdout: "present"},
		},
		{
			name:     "output capped",
			executor: ShellExecutor{MaxOutputBytes: 8},
			content:  "printf 0123456789abcdef",
			timeout:  10,
			want:     ScriptResult{Stdout: "01234567" + truncatedMarker},
		},
		{
			name:    "timeout",
			content: "sleep 30",
			timeout: 1,
			want:    ScriptResult{ExitCode: -1, Error: "script timed out after 1s"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := test.executor.Execute(context.Background(), "sh", test.content, test.timeout)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got != test.want {
				t.Errorf("Execute = %+v, want %+v", got, test.want)
			}
		})
	}
}

func TestShellExecutorUnsupportedLanguage(t *testing.T) {
	_, err := ShellExecutor{}.Execute(context.Background(), "cobol", "DISPLAY 'HI'.", 10)
	if err == nil || !strings.Contains(err.Error(), "unsupported script language") {
		t.Fatalf("Execute = %v, want unsupported language error", err)
	}
}

func TestInterpreterFor(t *testing.T) {
	tests := []struct {
		language  string
		extension string
		command   string
	}{
		{"bash", ".sh", "bash"},
		{"zsh", ".sh", "zsh"},
		{"python", ".py", "python3"},
		{"powershell", ".ps1", "powershell"},
		{"cmd", ".cmd", "cmd"},
	}
	for _, test := range tests {
		extension, commandLine, ok := interpreterFor(test.language)
		if !ok {
			t.Errorf("interpreterFor(%q) not supported", test.language)
			continue
		}
		name, args := commandLine("/tmp/script" + extension)
		if extension != test.extension || name != test.command {
			t.Errorf("interpreterFor(%q) = %q, %q; want %q, %q", test.language, extension, name, test.extension, test.command)
		}
		if args[len(args)-1] != "/tmp/script"+extension {
			t.Errorf("interpreterFor(%q) args %q do not end with the script path", test.language, args)
		}
	}
}
