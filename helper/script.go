// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// DefaultMaxOutputBytes caps each of stdout and stderr.
const DefaultMaxOutputBytes = 1 << 20

const truncatedMarker = "\n[output truncated]"

// ShellExecutor runs scripts with the interpreters found on PATH. The
// script is written to a private temporary file and removed afterwards.
type ShellExecutor struct {
	// MaxOutputBytes caps captured stdout and stderr each. Zero means
	// DefaultMaxOutputBytes.
	MaxOutputBytes int

	// Env is appended to the helper's environment.
	Env []string
}

// interpreterFor returns the file extension and command line that run
// a script file in language.
func interpreterFor(language string) (extension string, command func(path string) (string, []string), ok bool) {
	switch language {
	case "bash", "sh", "zsh":
		return ".sh", func(path string) (string, []string) { return language, []string{path} }, true
	case "python":
		name := "python3"
		if runtime.GOOS == "windows" {
			name = "python"
		}
		return ".py", func(path string) (string, []string) { return name, []string{path} }, true
	case "powershell":
		return ".ps1", func(path string) (string, []string) {
			return "powershell", []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-File", path}
		}, true
	case "cmd":
		return ".cmd", func(path string) (string, []string) { return "cmd", []string{"/Q", "/C", path} }, true
	}
	return "", nil, false
}

// Execute runs content with the interpreter for language. A script
// that runs and exits non-zero is not an error; the exit code is in the
// result. Timeouts are reported in ScriptResult.Error with exit code -1.
func (e ShellExecutor) Execute(ctx context.Context, language, content string, timeoutSeconds int) (ScriptResult, error) {
	extension, commandLine, ok := interpreterFor(language)
	if !ok {
		return ScriptResult{}, fmt.Errorf("helper: unsupported script language %q", language)
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultScriptTimeoutSeconds
	}
	limit := e.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}

	file, err := os.CreateTemp("", "bureau-script-*"+extension)
	if err != nil {
		return ScriptResult{}, fmt.Errorf("helper: creating script file: %w", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.WriteString(content); err != nil {
		file.Close()
		return ScriptResult{}, fmt.Errorf("helper: writing script file: %w", err)
	}
	if err := file.Close(); err != nil {
		return ScriptResult{}, fmt.Errorf("helper: writing script file: %w", err)
	}

	timeout := time.Duration(timeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := commandLine(file.Name())
	command := exec.CommandContext(ctx, name, args...)
	command.WaitDelay = 2 * time.Second
	if len(e.Env) > 0 {
		command.Env = append(command.Environ(), e.Env...)
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	command.Stdout = stdout
	command.Stderr = stderr

	err = command.Run()
	result := ScriptResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		result.Error = fmt.Sprintf("script timed out after %v", timeout)
		return result, nil
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, fmt.Errorf("helper: running %s script: %w", language, err)
	}
	return result, nil
}

// cappedBuffer keeps the first limit bytes written and discards the
// rest while still reporting full writes, so the child never blocks.
type cappedBuffer struct {
	limit     int
	data      []byte
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - len(b.data)
	if room >= len(p) {
		b.data = append(b.data, p...)
		return len(p), nil
	}
	if room > 0 {
		b.data = append(b.data, p[:room]...)
	}
	b.truncated = true
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return string(b.data) + truncatedMarker
	}
	return string(b.data)
}
