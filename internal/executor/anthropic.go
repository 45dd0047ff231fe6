package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/ShayCichocki/delegate/pkg/models"
)

// AnthropicConfig contains configuration for an AnthropicBackend.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseAWSBedrock routes calls through AWS Bedrock instead of the direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// AnthropicBackend sends calls to the Anthropic Messages API.
type AnthropicBackend struct {
	client  anthropic.Client
	bedrock bool
}

var _ Backend = (*AnthropicBackend)(nil)

// NewAnthropicBackend creates a backend from cfg.
func NewAnthropicBackend(ctx context.Context, cfg AnthropicConfig) (*AnthropicBackend, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	// Retries belong to the resilience layer.
	opts = append(opts, option.WithMaxRetries(0))

	return &AnthropicBackend{
		client:  anthropic.NewClient(opts...),
		bedrock: cfg.UseAWSBedrock,
	}, nil
}

// Invoke sends one message and returns the concatenated text reply.
// Consumed is the sum of input and output tokens.
func (b *AnthropicBackend) Invoke(ctx context.Context, call Call) (Response, error) {
	model := anthropic.Model(call.Model)
	if b.bedrock {
		model = translateModelForBedrock(model)
	}

	maxTokens := call.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	if call.Budget > 0 && maxTokens > call.Budget {
		maxTokens = call.Budget
	}

	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: call.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(call.Payload)),
		},
	})
	if err != nil {
		return Response{}, classifyAPIError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	out := Response{
		Payload:  text.String(),
		Consumed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	if resp.StopReason == anthropic.StopReasonMaxTokens {
		return out, Errorf(models.ErrorKindResourceExceeded, "reply truncated at %d tokens", maxTokens)
	}
	return out, nil
}

// classifyAPIError maps SDK errors onto the executor error taxonomy.
func classifyAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return NewError(models.ErrorKindTransientUnavailable, err)
	}

	switch code := apiErr.StatusCode; {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return NewError(models.ErrorKindTimeout, err)
	case code == http.StatusTooManyRequests || code == 529 || code >= 500:
		return NewError(models.ErrorKindTransientUnavailable, err)
	case code == http.StatusRequestEntityTooLarge:
		return NewError(models.ErrorKindResourceExceeded, err)
	case code == http.StatusBadRequest && strings.Contains(err.Error(), "prompt is too long"):
		return NewError(models.ErrorKindResourceExceeded, err)
	default:
		return NewError(models.ErrorKindUnknown, err)
	}
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock inference profile format.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}
