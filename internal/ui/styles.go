// Package ui styles CLI output.
package ui

import "fmt"

// ANSI256 color codes.
const (
	colorAccent = 74  // blue
	colorOK     = 114 // green
	colorFail   = 203 // red
	colorMuted  = 245 // medium gray
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color. Used for record keys
// and event topics.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderOK returns s in green.
func RenderOK(s string) string { return render(colorOK, s) }

// RenderFail returns s in red.
func RenderFail(s string) string { return render(colorFail, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// Init disables color unless ShouldUseColor approves it.
func Init() {
	if !ShouldUseColor() {
		ForceNoColor()
	}
}
