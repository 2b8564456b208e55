package interaction

// Discovery defaults
const (
	DefaultSynergyThreshold = 0.8
	DefaultCacheTolerance   = 0.05
	DefaultCacheSize        = 4096

	// NeutralAffinity applies when neither type declares a rule
	NeutralAffinity = 1.0
)
