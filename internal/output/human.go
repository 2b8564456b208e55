package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/yairfalse/threatforge/pkg/domain"
)

// HumanFormatter prints a short per-threat summary for terminals.
type HumanFormatter struct {
	w      io.Writer
	colors palette
}

// NewHumanFormatter creates a formatter that colors output unless color is
// globally disabled (NO_COLOR, non-terminal stdout).
func NewHumanFormatter(w io.Writer) *HumanFormatter {
	return &HumanFormatter{w: w, colors: newPalette(!color.NoColor)}
}

// WithoutColor turns colors off.
func (f *HumanFormatter) WithoutColor() *HumanFormatter {
	f.colors = newPalette(false)
	return f
}

func (f *HumanFormatter) PrintReport(report *RunReport) error {
	c := f.colors
	fmt.Fprintf(f.w, "%s  seed %d  ticks %d\n", c.Heading("Scenario "+report.Scenario), report.Seed, report.Ticks)
	if report.Interrupted {
		fmt.Fprintf(f.w, "%s run interrupted\n", c.Warning(Icons.Warning))
	}
	fmt.Fprintln(f.w, strings.Repeat(Icons.Separator, 60))

	for i := range report.Threats {
		f.printThreat(&report.Threats[i])
	}

	fmt.Fprintln(f.w, strings.Repeat(Icons.Separator, 60))
	dropped := fmt.Sprint(report.EventsDropped)
	if report.EventsDropped > 0 {
		dropped = c.Warning(dropped)
	}
	fmt.Fprintf(f.w, "events: %d sent, %s dropped\n", report.EventsSent, dropped)
	return nil
}

func (f *HumanFormatter) printThreat(s *domain.ThreatSnapshot) {
	c := f.colors

	icon := c.Success(Icons.Success)
	if len(s.Faults) > 0 {
		icon = c.Warning(Icons.Warning)
	}
	fmt.Fprintf(f.w, "%s %s  quality=%s  components=%d  emergent=%d  faults=%d  potential=%.2f\n",
		icon, c.Heading(s.ID), s.Quality, len(s.Components), len(s.EmergentBehaviors),
		len(s.Faults), s.Performance.EmergentPotential)

	for _, e := range s.EmergentBehaviors {
		novel := ""
		if e.Novel {
			novel = " " + c.Info("[novel]")
		}
		fmt.Fprintf(f.w, "    %s %-14s score %.3f  origin %s  since tick %d%s\n",
			c.Info(Icons.Emergent), e.Kind, e.Score, e.Origin, e.ActivationTick, novel)
	}
	for _, fault := range s.Faults {
		fmt.Fprintf(f.w, "    %s %s on %s at tick %d: %s\n",
			c.Error(Icons.Error), fault.BehaviorKind, fault.ComponentID, fault.Tick, fault.Message)
	}
}
