package models

// SparringMode selects the sparring protocol.
type SparringMode string

const (
	// SparringChallenge has the secondary critique the primary's candidate.
	SparringChallenge SparringMode = "challenge"
	// SparringAlternatives has the secondary propose distinct alternatives.
	SparringAlternatives SparringMode = "alternatives"
	// SparringCombined runs challenge then alternatives before synthesis.
	SparringCombined SparringMode = "combined"
)

// Valid returns true if the mode is a known value.
func (m SparringMode) Valid() bool {
	switch m {
	case SparringChallenge, SparringAlternatives, SparringCombined:
		return true
	default:
		return false
	}
}

// Severity grades a challenge.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Challenge is one critique of a candidate solution.
type Challenge struct {
	Severity Severity `json:"severity"`
	// Point is the assumption or failure scenario being raised.
	Point string `json:"point"`
	// Correction is the change the challenger proposes, if any.
	Correction string `json:"correction,omitempty"`
}

// Improvement is one aspect of a contribution explicitly marked as better
// than the current candidate.
type Improvement struct {
	Aspect string `json:"aspect"`
	Text   string `json:"text"`
}

// Alternative is a structurally distinct solution proposed during sparring.
type Alternative struct {
	Summary      string        `json:"summary"`
	Improvements []Improvement `json:"improvements,omitempty"`
	Confidence   float64       `json:"confidence,omitempty"`
}
