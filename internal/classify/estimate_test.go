package classify

import (
	"testing"

	"github.com/ShayCichocki/delegate/pkg/models"
)

func TestEstimateFast(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int64
	}{
		{"empty", "", 0},
		{"whitespace", "   ", 0},
		{"single short word", "hi", 1},
		{"words dominate", "a b c d e", 5},
		{"runes dominate", "abcdefghijklmnop", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateFast(tt.text); got != tt.want {
				t.Errorf("EstimateFast(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestEstimator_Fill(t *testing.T) {
	e := Estimator{}

	req := models.NewTaskRequest(models.TaskTypeFileSearch, "a b c d")
	filled := e.Fill(req, models.TierMechanical)
	if filled.EstimatedCost != 4+256 {
		t.Errorf("EstimatedCost = %d, want %d", filled.EstimatedCost, 4+256)
	}

	req.EstimatedCost = 1000
	if got := e.Fill(req, models.TierMechanical).EstimatedCost; got != 1000 {
		t.Errorf("Fill should keep a caller estimate, got %d", got)
	}
}

func TestEstimator_UnknownTierUsesReasoningAllowance(t *testing.T) {
	e := Estimator{}
	if got := e.EstimateCost("", models.Tier("odd")); got != 1024 {
		t.Errorf("EstimateCost() = %d, want 1024", got)
	}
}
