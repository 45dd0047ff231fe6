package models

// Tier is the cognitive-complexity tier of a task.
// Tiers are ordered from purely mechanical to strategic.
type Tier string

const (
	// TierMechanical is pure data retrieval or transformation.
	TierMechanical Tier = "mechanical"
	// TierAnalytical is pattern or metric computation.
	TierAnalytical Tier = "analytical"
	// TierReasoning is multi-step inference with no creative freedom.
	TierReasoning Tier = "reasoning"
	// TierCreative is open-ended generation.
	TierCreative Tier = "creative"
	// TierStrategic is cross-cutting judgment with long-range consequences.
	TierStrategic Tier = "strategic"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// Rank returns the position of the tier on the complexity scale,
// or -1 for an unknown tier.
func (t Tier) Rank() int {
	switch t {
	case TierMechanical:
		return 0
	case TierAnalytical:
		return 1
	case TierReasoning:
		return 2
	case TierCreative:
		return 3
	case TierStrategic:
		return 4
	default:
		return -1
	}
}

// AtLeast reports whether t is at or above other on the scale.
func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

// Pressure is the degree to which an executor's consumed budget approaches its ceiling.
type Pressure int

const (
	// PressureNormal is below the warning threshold.
	PressureNormal Pressure = iota
	// PressureWarning is at or above the warning threshold.
	PressureWarning
	// PressureCritical is at or above the critical threshold.
	PressureCritical
)

// String returns a human-readable representation of the pressure level.
func (p Pressure) String() string {
	switch p {
	case PressureNormal:
		return "normal"
	case PressureWarning:
		return "warning"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}
