package output

import "github.com/yairfalse/threatforge/pkg/domain"

// RunReport is the result of a run: the final snapshot of every threat plus
// event delivery counts.
type RunReport struct {
	Scenario      string                  `json:"scenario"`
	Seed          uint64                  `json:"seed"`
	Ticks         int                     `json:"ticks"`
	Interrupted   bool                    `json:"interrupted,omitempty"`
	EventsSent    int64                   `json:"events_sent"`
	EventsDropped int64                   `json:"events_dropped"`
	Threats       []domain.ThreatSnapshot `json:"threats"`
}
