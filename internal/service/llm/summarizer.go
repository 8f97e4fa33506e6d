package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	llmprovider "github.com/haowjy/meridian-llm-go"

	"multichat/internal/config"
	"multichat/internal/domain"
	"multichat/internal/domain/services"
)

// titlePrompt asks for a bare title; the conversation excerpt follows it
const titlePrompt = `Summarize the following conversation with a short, descriptive title of 5 words or less.
Respond only with the title, without any introductory text, explanation, or quotes.

Conversation:
`

// generator is the part of llmprovider.Provider the summarizer needs
type generator interface {
	GenerateResponse(ctx context.Context, req *llmprovider.GenerateRequest) (*llmprovider.GenerateResponse, error)
}

// Summarizer produces chat titles with an LLM provider
type Summarizer struct {
	provider generator
	model    string
	logger   *slog.Logger
}

// NewSummarizer creates a summarizer that calls provider with model
func NewSummarizer(provider generator, model string, logger *slog.Logger) *Summarizer {
	return &Summarizer{provider: provider, model: model, logger: logger}
}

// NewSummarizerFromConfig picks the provider from LLM_PROVIDER, falling back
// to the provider implied by SUMMARIZER_MODEL
func NewSummarizerFromConfig(cfg *config.Config, logger *slog.Logger) (*Summarizer, error) {
	info, err := ParseModel(cfg.SummarizerModel)
	if err != nil {
		return nil, fmt.Errorf("summarizer model: %w", err)
	}

	providerName := cfg.LLMProvider
	if providerName == "" {
		providerName = info.Provider
	}

	provider, err := NewProviderFactory(cfg).GetProvider(providerName)
	if err != nil {
		return nil, err
	}

	if !provider.SupportsModel(info.Model) {
		return nil, fmt.Errorf("provider %s does not support model %s", provider.Name().String(), info.Model)
	}

	logger.Info("summarizer configured", "provider", provider.Name().String(), "model", info.Model)
	return NewSummarizer(provider, info.Model, logger), nil
}

// NewOptionalSummarizer is NewSummarizerFromConfig for callers that can run
// without auto-naming. A setup failure is logged and yields a nil interface.
func NewOptionalSummarizer(cfg *config.Config, logger *slog.Logger) services.Summarizer {
	s, err := NewSummarizerFromConfig(cfg, logger)
	if err != nil {
		logger.Warn("summarizer unavailable, auto-naming disabled",
			"provider", cfg.LLMProvider,
			"model", cfg.SummarizerModel,
			"error", err,
		)
		return nil
	}
	return s
}

// Summarize returns the raw title text generated for the conversation excerpt
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	prompt := titlePrompt + text

	req := &llmprovider.GenerateRequest{
		Messages: []llmprovider.Message{
			{
				Role: "user",
				Blocks: []*llmprovider.Block{
					{
						BlockType:   "text",
						Sequence:    0,
						TextContent: &prompt,
					},
				},
			},
		},
		Model: s.model,
	}

	resp, err := s.provider.GenerateResponse(ctx, req)
	if err != nil {
		return "", &domain.UpstreamError{Upstream: "summarizer", Op: "generate", Err: err}
	}

	title := responseText(resp)
	s.logger.Debug("title generated", "model", s.model, "title", title)
	return title, nil
}

// responseText concatenates the text blocks of a response
func responseText(resp *llmprovider.GenerateResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range resp.Blocks {
		if block == nil || block.BlockType != "text" || block.TextContent == nil {
			continue
		}
		b.WriteString(*block.TextContent)
	}
	return b.String()
}
