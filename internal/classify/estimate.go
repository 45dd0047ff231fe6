package classify

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/ShayCichocki/delegate/pkg/models"
)

var (
	encOnce  sync.Once
	encoding *tiktoken.Tiktoken
)

// loadEncoding lazily initializes cl100k_base. The first call may fetch the
// BPE ranks; on failure CountTokens uses the heuristic instead.
func loadEncoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// outputAllowance is the expected response size for each tier.
var outputAllowance = map[models.Tier]int64{
	models.TierMechanical: 256,
	models.TierAnalytical: 512,
	models.TierReasoning:  1024,
	models.TierCreative:   2048,
	models.TierStrategic:  4096,
}

// Estimator fills in cost estimates for requests that arrive without one.
type Estimator struct {
	// Exact enables tiktoken counting. When false only the heuristic is used.
	Exact bool
}

// CountTokens returns the token count of text.
func (e Estimator) CountTokens(text string) int64 {
	if e.Exact {
		if enc := loadEncoding(); enc != nil {
			return int64(len(enc.Encode(text, nil, nil)))
		}
	}
	return EstimateFast(text)
}

// EstimateCost returns the expected resource consumption of running the payload
// at the given tier: input tokens plus the tier's output allowance.
func (e Estimator) EstimateCost(payload string, tier models.Tier) int64 {
	allowance, ok := outputAllowance[tier]
	if !ok {
		allowance = outputAllowance[models.TierReasoning]
	}
	return e.CountTokens(payload) + allowance
}

// Fill returns req with EstimatedCost set when the caller left it at zero.
func (e Estimator) Fill(req models.TaskRequest, tier models.Tier) models.TaskRequest {
	if req.EstimatedCost > 0 {
		return req
	}
	req.EstimatedCost = e.EstimateCost(req.Payload, tier)
	return req
}

// EstimateFast returns a heuristic token estimate: max(runes/4, word_count).
func EstimateFast(text string) int64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	estimate := runes / 4
	if estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return int64(estimate)
}
