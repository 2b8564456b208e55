package output

import (
	"github.com/fatih/color"
)

// Icons contains all icons used throughout the application
var Icons = struct {
	Success   string
	Error     string
	Warning   string
	Info      string
	Emergent  string
	Separator string
}{
	Success:   "✓",
	Error:     "✗",
	Warning:   "⚠",
	Info:      "ℹ",
	Emergent:  "✦",
	Separator: "─",
}

// palette holds the color functions a formatter uses.
type palette struct {
	Success func(a ...interface{}) string
	Error   func(a ...interface{}) string
	Warning func(a ...interface{}) string
	Info    func(a ...interface{}) string
	Heading func(a ...interface{}) string
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) func(a ...interface{}) string {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return palette{
		Success: mk(color.FgGreen),
		Error:   mk(color.FgRed),
		Warning: mk(color.FgYellow),
		Info:    mk(color.FgCyan),
		Heading: mk(color.FgWhite, color.Bold),
	}
}
