package domain

import (
	"fmt"
	"strings"
)

// QualityLevel is the ordered performance tier controlling how much
// behavior and discovery work runs per tick.
type QualityLevel int

const (
	QualityMinimal QualityLevel = iota
	QualityLow
	QualityBalanced
	QualityHigh
	QualityUltra
)

var qualityNames = [...]string{"minimal", "low", "balanced", "high", "ultra"}

// QualityLevels lists every level from lowest to highest.
func QualityLevels() []QualityLevel {
	return []QualityLevel{QualityMinimal, QualityLow, QualityBalanced, QualityHigh, QualityUltra}
}

func (q QualityLevel) String() string {
	if !q.Valid() {
		return fmt.Sprintf("quality(%d)", int(q))
	}
	return qualityNames[q]
}

// Valid reports whether q is one of the defined levels.
func (q QualityLevel) Valid() bool {
	return q >= QualityMinimal && q <= QualityUltra
}

// Demote returns the next lower level, saturating at minimal.
func (q QualityLevel) Demote() QualityLevel {
	if q <= QualityMinimal {
		return QualityMinimal
	}
	return q - 1
}

// Promote returns the next higher level, saturating at ultra.
func (q QualityLevel) Promote() QualityLevel {
	if q >= QualityUltra {
		return QualityUltra
	}
	return q + 1
}

// ParseQualityLevel parses a level name (case-insensitive).
func ParseQualityLevel(s string) (QualityLevel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range qualityNames {
		if n == name {
			return QualityLevel(i), nil
		}
	}
	return QualityBalanced, fmt.Errorf("unknown quality level %q (valid: %s)", s, strings.Join(qualityNames[:], ", "))
}

// MarshalText encodes the level by name so snapshots stay readable.
func (q QualityLevel) MarshalText() ([]byte, error) {
	if !q.Valid() {
		return nil, fmt.Errorf("invalid quality level %d", int(q))
	}
	return []byte(q.String()), nil
}

// UnmarshalText decodes a level name.
func (q *QualityLevel) UnmarshalText(text []byte) error {
	level, err := ParseQualityLevel(string(text))
	if err != nil {
		return err
	}
	*q = level
	return nil
}
