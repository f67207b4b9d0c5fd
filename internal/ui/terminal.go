package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ColorEnv selects the color mode: "always", "never" or "auto" (default).
const ColorEnv = "SDATA_COLOR"

// ShouldUseColor reports whether stdout gets ANSI colors.
func ShouldUseColor() bool {
	return shouldUseColor(os.Stdout)
}

func shouldUseColor(f *os.File) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(ColorEnv))) {
	case "always":
		return true
	case "never":
		return false
	}
	// https://no-color.org
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	return IsTerminal(f)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Width is the terminal width of f, or fallback when it cannot be read.
func Width(f *os.File, fallback int) int {
	if !IsTerminal(f) {
		return fallback
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}
