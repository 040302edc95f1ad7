// Package ui provides small render helpers for terminal output.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// colorOK reports whether the terminal supports colored output.
// Dumb terminals and redirected output get plain text.
func colorOK() bool {
	return termenv.EnvColorProfile() != termenv.Ascii
}

// RenderPass renders s as a success marker.
func RenderPass(s string) string {
	if !colorOK() {
		return s
	}
	return passStyle.Render(s)
}

// RenderWarn renders s as a warning marker.
func RenderWarn(s string) string {
	if !colorOK() {
		return s
	}
	return warnStyle.Render(s)
}

// RenderFail renders s as a failure marker.
func RenderFail(s string) string {
	if !colorOK() {
		return s
	}
	return failStyle.Render(s)
}

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string {
	if !colorOK() {
		return s
	}
	return accentStyle.Render(s)
}

// RenderDim renders s faint, for secondary detail lines.
func RenderDim(s string) string {
	if !colorOK() {
		return s
	}
	return dimStyle.Render(s)
}
