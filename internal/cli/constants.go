package cli

// Run defaults
const (
	DefaultTicks     = 600
	DefaultDeltaTime = 1.0 / 60
	DefaultSeed      = 42
)
