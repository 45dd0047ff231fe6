// Package taskfile decodes task requests from YAML files and watches an
// inbox directory for new ones.
package taskfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/delegate/pkg/models"
)

// ErrEmpty is returned when a file holds no task documents.
var ErrEmpty = errors.New("no tasks in file")

// Task is the on-disk form of a task request. A file may hold several
// YAML documents separated by "---".
type Task struct {
	ID            string   `yaml:"id,omitempty"`
	Type          string   `yaml:"type"`
	Payload       string   `yaml:"payload"`
	EstimatedCost int64    `yaml:"estimated_cost,omitempty"`
	Capabilities  []string `yaml:"capabilities,omitempty"`
	Priority      string   `yaml:"priority,omitempty"`
	Tier          string   `yaml:"tier,omitempty"`
	Sparring      string   `yaml:"sparring,omitempty"`
}

// Request converts t into a validated request. A missing ID gets a fresh
// UUID and a missing type means general.
func (t Task) Request(now time.Time) (models.TaskRequest, error) {
	priority, err := models.ParsePriority(strings.ToLower(strings.TrimSpace(t.Priority)))
	if err != nil {
		return models.TaskRequest{}, fmt.Errorf("%w: %v", models.ErrInvalidTask, err)
	}

	req := models.TaskRequest{
		ID:            t.ID,
		Type:          models.TaskType(t.Type),
		Payload:       t.Payload,
		EstimatedCost: t.EstimatedCost,
		Priority:      priority,
		TierHint:      models.Tier(t.Tier),
		Sparring:      models.SparringMode(t.Sparring),
		CreatedAt:     now,
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Type == "" {
		req.Type = models.TaskTypeGeneral
	}
	for _, c := range t.Capabilities {
		req.RequiredCapabilities = append(req.RequiredCapabilities, models.Capability(c))
	}

	if err := req.Validate(); err != nil {
		return models.TaskRequest{}, err
	}
	return req, nil
}

// Decode reads every YAML document from r.
func Decode(r io.Reader, now time.Time) ([]models.TaskRequest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var out []models.TaskRequest
	for i := 0; ; i++ {
		var t Task
		err := dec.Decode(&t)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		req, err := t.Request(now)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		out = append(out, req)
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

// ReadFile decodes the tasks in path.
func ReadFile(path string) ([]models.TaskRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	reqs, err := Decode(bytes.NewReader(data), time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reqs, nil
}

// IsTaskFile reports whether name has a YAML extension and is not hidden.
func IsTaskFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
