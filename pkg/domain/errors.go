package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrUnknownType     = errors.New("unknown component type")
	ErrInvalidProperty = errors.New("invalid component property")
	ErrDuplicateType   = errors.New("component type already registered")
)

// UnknownTypeError reports a reference to an unregistered component type.
type UnknownTypeError struct {
	TypeID string `json:"type_id"`
}

func (e UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown component type %q", e.TypeID)
}

func (e UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownType
}

// InvalidPropertyError reports a property that violates the blueprint schema.
type InvalidPropertyError struct {
	TypeID   string `json:"type_id"`
	Property string `json:"property"`
	Reason   string `json:"reason"`
}

func (e InvalidPropertyError) Error() string {
	return fmt.Sprintf("invalid property %q for type %q: %s", e.Property, e.TypeID, e.Reason)
}

func (e InvalidPropertyError) Is(target error) bool {
	return target == ErrInvalidProperty
}

// DuplicateTypeError reports a second registration of the same type id.
type DuplicateTypeError struct {
	TypeID string `json:"type_id"`
}

func (e DuplicateTypeError) Error() string {
	return fmt.Sprintf("component type %q already registered", e.TypeID)
}

func (e DuplicateTypeError) Is(target error) bool {
	return target == ErrDuplicateType
}

// BehaviorFault records a behavior that failed during its update. The
// behavior is disabled for the owning threat until explicitly reset.
type BehaviorFault struct {
	ThreatID     string `json:"threat_id"`
	ComponentID  string `json:"component_id"`
	TypeID       string `json:"type_id"`
	BehaviorKind string `json:"behavior_kind"`
	Tick         uint64 `json:"tick"`
	Message      string `json:"message"`
	Panicked     bool   `json:"panicked"`
}

func (f BehaviorFault) Error() string {
	return fmt.Sprintf("behavior %s on component %s faulted at tick %d: %s",
		f.BehaviorKind, f.ComponentID, f.Tick, f.Message)
}

// PerformanceBudgetExceeded is advisory: a tick cost more than its budget.
// It drives quality demotion and is never fatal.
type PerformanceBudgetExceeded struct {
	ThreatID    string        `json:"threat_id"`
	Tick        uint64        `json:"tick"`
	Cost        time.Duration `json:"cost"`
	Budget      time.Duration `json:"budget"`
	Consecutive int           `json:"consecutive"`
}

func (e PerformanceBudgetExceeded) Error() string {
	return fmt.Sprintf("tick %d cost %s over budget %s (%d consecutive)",
		e.Tick, e.Cost, e.Budget, e.Consecutive)
}

// InteractionCacheInconsistency reports derived state that referenced a
// component no longer present. The stale entry is purged.
type InteractionCacheInconsistency struct {
	ThreatID  string  `json:"threat_id"`
	Pair      PairKey `json:"pair"`
	MissingID string  `json:"missing_id"`
	Source    string  `json:"source"`
}

func (e InteractionCacheInconsistency) Error() string {
	return fmt.Sprintf("%s entry %s references missing component %s", e.Source, e.Pair, e.MissingID)
}
