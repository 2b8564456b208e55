package events

// Sink defaults
const (
	DefaultChannelBuffer = 1024
	DefaultSubjectPrefix = "threatforge.events"
	DefaultClientName    = "threatforge"
)
