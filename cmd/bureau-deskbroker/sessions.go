// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/deskbroker/lib/process"
	"github.com/bureau-foundation/deskbroker/loginsession"
)

func sessionsCommand() *command {
	var outputJSON bool
	return &command{
		name:    "sessions",
		summary: "List interactive login sessions",
		usage:   "bureau-deskbroker sessions [--json]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("sessions", pflag.ContinueOnError)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		run: func(ctx context.Context, stdout io.Writer, args []string) error {
			if len(args) > 0 {
				return process.Usagef("sessions takes no arguments")
			}
			sessions, err := loginsession.List(ctx)
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(stdout, sessions)
			}
			return renderSessions(stdout, sessions)
		},
	}
}

// writeJSON writes sessions as indented JSON. A nil slice is written
// as [] rather than null.
func writeJSON(w io.Writer, sessions []loginsession.Session) error {
	if sessions == nil {
		sessions = []loginsession.Session{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(sessions)
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	activeStyle   = cellStyle.Foreground(lipgloss.Color("2"))
	inactiveStyle = cellStyle.Foreground(lipgloss.Color("8"))
	borderStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// stateColumn is the index of the STATE column in sessionRows.
const stateColumn = 3

func renderSessions(w io.Writer, sessions []loginsession.Session) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No interactive sessions.")
		return err
	}
	rows := sessionRows(sessions)
	rendered := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("SESSION", "USER", "DISPLAY", "STATE", "LOCKED", "REMOTE").
		Rows(rows...).
		StyleFunc(func(row, column int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case column == stateColumn && rows[row][stateColumn] == loginsession.StateActive:
				return activeStyle
			case column == stateColumn:
				return inactiveStyle
			default:
				return cellStyle
			}
		})
	_, err := fmt.Fprintln(w, rendered.String())
	return err
}

func sessionRows(sessions []loginsession.Session) [][]string {
	rows := make([][]string, 0, len(sessions))
	for _, session := range sessions {
		user := session.Username
		if session.SID != "" {
			user += " (" + session.SID + ")"
		}
		display := session.DisplayType
		if display == "" {
			display = "-"
		}
		rows = append(rows, []string{
			session.SessionID,
			user,
			display,
			session.State,
			yesNo(session.Locked),
			yesNo(session.Remote),
		})
	}
	return rows
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
