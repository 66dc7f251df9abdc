package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

// kindStyle is the bracketed label and ANSI colour for each statusKind.
var kindStyle = map[statusKind]struct{ label, color string }{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

const labelColumn = 22

var titleCaser = cases.Title(language.English)

func paint(line, color string, colorize bool) string {
	if !colorize || color == "" {
		return line
	}
	return color + line + ansiReset
}

// renderStatusLine formats "  Label:   [KIND] message" with the label padded
// so the brackets line up.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style := kindStyle[kind]
	var b strings.Builder
	fmt.Fprintf(&b, "  %-*s [%s]", labelColumn, label+":", style.label)
	if message != "" {
		b.WriteString(" " + message)
	}
	return paint(b.String(), style.color, colorize)
}

// stageKind maps a project status onto the colour used to print it.
func stageKind(status string) statusKind {
	switch status {
	case "complete":
		return statusOK
	case "failed":
		return statusError
	case "queued":
		return statusWarn
	default:
		return statusInfo
	}
}

// stageLabel turns a wire stage name into a display label.
func stageLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return "Unknown"
	}
	return titleCaser.String(strings.ReplaceAll(status, "_", " "))
}

func renderSectionHeader(title string, colorize bool) []string {
	heading := "== " + strings.TrimSpace(title) + " =="
	return []string{
		paint(heading, ansiBlue, colorize),
		paint(strings.Repeat("-", len(heading)), ansiBlue, colorize),
	}
}

func renderProgressLine(percent int, step string, status string, colorize bool) string {
	return paint(fmt.Sprintf("[%3d%%] %s", percent, step), kindStyle[stageKind(status)].color, colorize)
}

// shouldColorize reports whether w is an interactive terminal.
func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
