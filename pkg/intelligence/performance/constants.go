package performance

import "time"

// Governor defaults
const (
	DefaultTargetTickBudget = 2 * time.Millisecond
	DefaultUpperRatio       = 1.0
	DefaultLowerRatio       = 0.5
	DefaultDemoteAfter      = 3
	DefaultPromoteAfter     = 60
)
