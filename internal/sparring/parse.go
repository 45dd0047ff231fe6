package sparring

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ShayCichocki/delegate/pkg/models"
)

// envelope is the JSON structure engines are asked to reply with.
type envelope struct {
	Challenges   []models.Challenge    `json:"challenges"`
	Alternatives []alternativeEnvelope `json:"alternatives"`
}

type alternativeEnvelope struct {
	Summary      string            `json:"summary"`
	Improvements []improvementJSON `json:"improvements"`
	Confidence   float64           `json:"confidence"`
}

// improvementJSON accepts either {"aspect":..., "text":...} or a bare string.
type improvementJSON struct {
	models.Improvement
}

func (i *improvementJSON) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		i.Improvement = splitImprovement(s)
		return nil
	}
	return json.Unmarshal(data, &i.Improvement)
}

// extractJSON returns the outermost JSON object in response.
func extractJSON(response string) (string, bool) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return response[start : end+1], true
}

func parseEnvelope(response string) (*envelope, error) {
	raw, ok := extractJSON(response)
	if !ok {
		return nil, fmt.Errorf("no valid JSON object found in response")
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return &env, nil
}

// ParseChallenges reads challenges from an engine reply. Replies that are
// not JSON are read line by line: "CRITICAL:", "MAJOR:" and "MINOR:"
// prefixes set the severity, bullet lines default to major, and "=>"
// separates a point from its correction.
func ParseChallenges(response string) []models.Challenge {
	if env, err := parseEnvelope(response); err == nil && len(env.Challenges) > 0 {
		out := make([]models.Challenge, 0, len(env.Challenges))
		for _, c := range env.Challenges {
			c.Severity = normalizeSeverity(string(c.Severity))
			c.Point = strings.TrimSpace(c.Point)
			c.Correction = strings.TrimSpace(c.Correction)
			if c.Point == "" && c.Correction == "" {
				continue
			}
			out = append(out, c)
		}
		return out
	}

	var out []models.Challenge
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sev, rest, ok := severityPrefix(line)
		if !ok {
			bullet := strings.TrimLeft(line, "-*• ")
			if bullet == line {
				continue
			}
			sev, rest = models.SeverityMajor, bullet
		}
		point, correction, _ := strings.Cut(rest, "=>")
		c := models.Challenge{
			Severity:   sev,
			Point:      strings.TrimSpace(point),
			Correction: strings.TrimSpace(correction),
		}
		if c.Point != "" {
			out = append(out, c)
		}
	}
	return out
}

// ParseAlternatives reads at most limit alternatives from an engine reply.
// Replies that are not JSON use "ALTERNATIVE:" lines to start an
// alternative and "IMPROVEMENT: aspect: text" lines to mark improvements.
func ParseAlternatives(response string, limit int) []models.Alternative {
	var out []models.Alternative
	if env, err := parseEnvelope(response); err == nil && len(env.Alternatives) > 0 {
		for _, a := range env.Alternatives {
			alt := models.Alternative{Summary: strings.TrimSpace(a.Summary), Confidence: a.Confidence}
			for _, imp := range a.Improvements {
				alt.Improvements = append(alt.Improvements, imp.Improvement)
			}
			out = append(out, alt)
		}
	} else {
		for _, line := range strings.Split(response, "\n") {
			line = strings.TrimSpace(line)
			if rest, ok := cutPrefixFold(line, "ALTERNATIVE:"); ok {
				out = append(out, models.Alternative{Summary: strings.TrimSpace(rest)})
				continue
			}
			if rest, ok := cutPrefixFold(line, "IMPROVEMENT:"); ok && len(out) > 0 {
				last := &out[len(out)-1]
				last.Improvements = append(last.Improvements, splitImprovement(rest))
			}
		}
	}

	for i := range out {
		for j := range out[i].Improvements {
			if out[i].Improvements[j].Aspect == "" {
				out[i].Improvements[j].Aspect = fmt.Sprintf("alternative-%d", i+1)
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// splitImprovement turns "aspect: text" into an Improvement. Text without a
// colon has no aspect.
func splitImprovement(s string) models.Improvement {
	s = strings.TrimSpace(s)
	if aspect, text, ok := strings.Cut(s, ":"); ok && strings.TrimSpace(aspect) != "" && !strings.Contains(aspect, " ") {
		return models.Improvement{Aspect: strings.TrimSpace(aspect), Text: strings.TrimSpace(text)}
	}
	return models.Improvement{Text: s}
}

func severityPrefix(line string) (models.Severity, string, bool) {
	for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityMajor, models.SeverityMinor} {
		for _, prefix := range []string{string(sev) + ":", "[" + string(sev) + "]"} {
			if rest, ok := cutPrefixFold(line, prefix); ok {
				return sev, strings.TrimSpace(rest), true
			}
		}
	}
	return "", "", false
}

func normalizeSeverity(s string) models.Severity {
	switch models.Severity(strings.ToLower(strings.TrimSpace(s))) {
	case models.SeverityCritical:
		return models.SeverityCritical
	case models.SeverityMinor:
		return models.SeverityMinor
	default:
		return models.SeverityMajor
	}
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
