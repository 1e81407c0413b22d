// Package oracle wraps the code-synthesis service behind two request
// shapes: one-shot generation from a document plus its reference snapshot,
// and repair of a failed candidate from its diagnostic transcript.
package oracle

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"slidesmith/internal/candidate"
	"slidesmith/internal/usage"
)

// Client is the oracle contract consumed by the repair loop.
//
// Synthesize failures are fatal to the session and surface as errors.
// Repair never returns an error: when the remote call fails the prior
// candidate is returned unchanged with zero usage, so the loop re-executes
// it and consumes a retry slot instead of crashing the session. That
// degrade policy is deliberate; see DESIGN.md.
type Client interface {
	Synthesize(ctx context.Context, html string, screenshot []byte) (string, usage.Record, error)
	Repair(ctx context.Context, prior candidate.Candidate, transcript string) (string, usage.Record)
}

// Gemini implements Client against the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGemini creates an oracle client. Model defaults to gemini-2.5-pro.
func NewGemini(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("oracle API key is required")
	}
	if model == "" {
		model = "gemini-2.5-pro"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: model, logger: logger}, nil
}

// Synthesize performs the one-shot generation request: reference snapshot
// plus codegen instructions built around the document source. A failed
// remote call is returned as-is; the caller decides whether to abort.
func (g *Gemini) Synthesize(ctx context.Context, html string, screenshot []byte) (string, usage.Record, error) {
	prompt := synthesisPrompt(html)
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(screenshot, "image/png"),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	g.logger.Info("requesting initial synthesis",
		zap.String("model", g.model),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("snapshot_bytes", len(screenshot)))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", usage.Record{}, fmt.Errorf("synthesis call failed: %w", err)
	}

	text := resp.Text()
	rec := recordFrom(resp, len(prompt), len(text))
	g.logger.Info("synthesis response received",
		zap.Int("response_chars", len(text)),
		zap.Int("usage_input", rec.Input),
		zap.Int("usage_output", rec.Output))
	return text, rec, nil
}

// Repair sends the failing candidate and its complete diagnostic transcript
// and returns the revised program text. On any remote failure, or an empty
// response, the prior candidate is returned verbatim with zero usage.
func (g *Gemini) Repair(ctx context.Context, prior candidate.Candidate, transcript string) (string, usage.Record) {
	prompt := repairPrompt(prior.Source, transcript)

	g.logger.Info("requesting candidate repair",
		zap.String("model", g.model),
		zap.String("prior", prior.Provenance),
		zap.Int("prompt_chars", len(prompt)))

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(prompt), nil)
	if err != nil {
		g.logger.Warn("repair call failed, reusing prior candidate", zap.Error(err))
		return prior.Source, usage.Record{}
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		g.logger.Warn("repair returned empty response, reusing prior candidate")
		return prior.Source, usage.Record{}
	}

	rec := recordFrom(resp, len(prompt), len(text))
	g.logger.Info("repair response received",
		zap.Int("response_chars", len(text)),
		zap.Int("usage_input", rec.Input),
		zap.Int("usage_output", rec.Output))
	return text, rec
}

// Close releases the underlying client. The genai client holds no
// resources that require explicit release, so this is a no-op.
func (g *Gemini) Close() error {
	return nil
}

// recordFrom prefers the service-reported token counts and falls back to
// character counts when usage metadata is absent.
func recordFrom(resp *genai.GenerateContentResponse, promptChars, responseChars int) usage.Record {
	if resp.UsageMetadata != nil {
		return usage.Record{
			Input:  int(resp.UsageMetadata.PromptTokenCount),
			Output: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return usage.Record{Input: promptChars, Output: responseChars}
}
