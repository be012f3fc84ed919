package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/sptoken/internal/token"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgTokenResult MsgKind = iota
	MsgLoginTimeout
)

// tokenResultMsg is the constructor for [MsgTokenResult]. A nil record means the session ended.
func tokenResultMsg(rec *token.Record) Msg {
	return Msg{kind: MsgTokenResult, data: rec}
}

// loginTimeoutMsg is the constructor for [MsgLoginTimeout]
func loginTimeoutMsg() Msg {
	return Msg{kind: MsgLoginTimeout}
}
