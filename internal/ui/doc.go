// Package ui renders the terminal views using bubbletea's Elm architecture and lipgloss styles.
//
// [LoginModel] implements Init/Update/View around a bubbles spinner while a login attempt waits for its
// first token result. Results arrive through the Msg union type.
//
// [RenderStatus] and [RenderEvent] are plain string renderers for the status and watch commands.
package ui
