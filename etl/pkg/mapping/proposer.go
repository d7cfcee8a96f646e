package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/anthropics/anthropic-sdk-go"

	"github.com/verdantlabs/carbonetl/etl/pkg/metrics"
	"github.com/verdantlabs/carbonetl/utils/pkg/retry"
)

// ErrParse marks a proposer response that could not be turned into a
// mapping. It is fatal: the pipeline surfaces it to the caller instead of
// defaulting to an empty mapping.
var ErrParse = errors.New("mapping: unparseable mapping input")

// Proposer produces a raw mapping for a source sheet. The engine only
// depends on this interface; the LLM client below is one implementation and
// tests substitute their own.
type Proposer interface {
	Propose(ctx context.Context, req ProposeRequest) (Mapping, error)
}

// AnthropicProposer proposes mappings with a single blocking Claude call.
type AnthropicProposer struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	log       *slog.Logger
	retry     retry.Config
}

// NewAnthropicProposer builds a proposer using ambient Anthropic credentials
// (ANTHROPIC_API_KEY).
func NewAnthropicProposer(log *slog.Logger, model anthropic.Model, maxTokens int64) *AnthropicProposer {
	return &AnthropicProposer{
		client:    anthropic.NewClient(),
		model:     model,
		maxTokens: maxTokens,
		log:       log,
		retry:     retry.DefaultConfig(),
	}
}

// Propose renders the prompt, calls the model, and decodes the response.
// Transport failures are retried with backoff; an undecodable response is
// ErrParse and never retried (the model already had its one answer).
func (p *AnthropicProposer) Propose(ctx context.Context, req ProposeRequest) (Mapping, error) {
	prompt := buildPrompt(req)
	p.log.Info("mapping: proposing schema mapping",
		"model", p.model, "sourceTable", req.SourceTable, "sourceColumns", len(req.SourceColumns))

	var raw string
	err := retry.Do(ctx, p.retry, func() error {
		start := time.Now()
		msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     p.model,
			MaxTokens: p.maxTokens,
			System: []anthropic.TextBlockParam{
				{Type: "text", Text: systemPrompt},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		duration := time.Since(start)
		if err != nil {
			p.log.Error("mapping: model call failed", "duration", duration, "error", err)
			metrics.RecordProposerRequest(duration, err)
			return fmt.Errorf("anthropic API error: %w", err)
		}
		p.log.Info("mapping: model call completed",
			"duration", duration,
			"stopReason", msg.StopReason,
			"inputTokens", msg.Usage.InputTokens,
			"outputTokens", msg.Usage.OutputTokens)
		metrics.RecordProposerRequest(duration, nil)
		metrics.RecordProposerTokens(msg.Usage.InputTokens, msg.Usage.OutputTokens)

		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		raw = sb.String()
		return nil
	})
	if err != nil {
		return nil, err
	}

	m, err := Decode(raw)
	if err != nil {
		p.log.Error("mapping: failed to decode model response", "error", err, "responseLen", len(raw))
		return nil, err
	}
	return m, nil
}

var fencedJSON = regexp.MustCompile("(?is)```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// Decode turns raw proposer output into a Mapping. Fenced markdown blocks
// are unwrapped first; near-JSON (single quotes, trailing commas, bare
// identifiers) goes through a repair pass before the strict decode.
func Decode(raw string) (Mapping, error) {
	text := strings.TrimSpace(raw)
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrParse)
	}

	var out Mapping
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, nil
	}

	repaired, err := jsonrepair.RepairJSON(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return out, nil
}
