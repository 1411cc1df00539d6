package clifmt

import (
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

func init() {
	color.NoColor = !useColor()
}

func Headerf(format string, args ...any) string {
	return color.New(color.FgCyan, color.Bold).Sprintf(format, args...)
}

func Success(text string) string {
	return color.GreenString("%s", text)
}

func Warn(text string) string {
	return color.YellowString("%s", text)
}

func Error(text string) string {
	return color.RedString("%s", text)
}

func Dim(text string) string {
	return color.New(color.Faint).Sprint(text)
}

func Key(text string) string {
	return color.New(color.FgYellow, color.Bold).Sprint(text)
}

// Risk colours a risk level label: green for SAFE, yellow for ELEVATED and
// red for everything else.
func Risk(level string) string {
	switch level {
	case "SAFE":
		return Success(level)
	case "ELEVATED":
		return Warn(level)
	default:
		return color.New(color.FgRed, color.Bold).Sprint(level)
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

func useColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return IsTerminal(os.Stdout)
}
