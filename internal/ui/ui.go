// Package ui renders console status output for the CLI.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// RenderAccent highlights a label or identifier.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderSuccess renders a success message.
func RenderSuccess(s string) string { return successStyle.Render(s) }

// RenderWarning renders a warning message.
func RenderWarning(s string) string { return warningStyle.Render(s) }

// RenderError renders an error message.
func RenderError(s string) string { return errorStyle.Render(s) }
