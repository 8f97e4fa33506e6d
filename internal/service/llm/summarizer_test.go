package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	llmprovider "github.com/haowjy/meridian-llm-go"

	"multichat/internal/config"
	"multichat/internal/domain"
)

type fakeGenerator struct {
	resp *llmprovider.GenerateResponse
	err  error
	req  *llmprovider.GenerateRequest
}

func (f *fakeGenerator) GenerateResponse(ctx context.Context, req *llmprovider.GenerateRequest) (*llmprovider.GenerateResponse, error) {
	f.req = req
	return f.resp, f.err
}

func textBlock(blockType, text string) *llmprovider.Block {
	return &llmprovider.Block{BlockType: blockType, TextContent: &text}
}

func TestSummarizer_Summarize(t *testing.T) {
	gen := &fakeGenerator{resp: &llmprovider.GenerateResponse{
		Blocks: []*llmprovider.Block{
			textBlock("thinking", "let me think"),
			textBlock("text", "Lisbon "),
			textBlock("text", "Packing List"),
		},
	}}
	s := NewSummarizer(gen, "lorem-fast", slog.New(slog.NewTextHandler(io.Discard, nil)))

	title, err := s.Summarize(context.Background(), "- User: \"hi\"\n- Bot: \"hello\"")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if title != "Lisbon Packing List" {
		t.Errorf("title = %q", title)
	}

	if gen.req.Model != "lorem-fast" {
		t.Errorf("model = %q", gen.req.Model)
	}
	if len(gen.req.Messages) != 1 || gen.req.Messages[0].Role != "user" {
		t.Fatalf("unexpected request messages: %+v", gen.req.Messages)
	}
	prompt := *gen.req.Messages[0].Blocks[0].TextContent
	if !strings.HasPrefix(prompt, "Summarize the following conversation") || !strings.Contains(prompt, "- Bot: \"hello\"") {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestSummarizer_ProviderError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("rate limited")}
	s := NewSummarizer(gen, "claude-haiku-4-5", slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := s.Summarize(context.Background(), "x")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestResponseText_Empty(t *testing.T) {
	if got := responseText(nil); got != "" {
		t.Errorf("responseText(nil) = %q", got)
	}
	if got := responseText(&llmprovider.GenerateResponse{Blocks: []*llmprovider.Block{nil}}); got != "" {
		t.Errorf("responseText(nil block) = %q", got)
	}
}

func TestNewOptionalSummarizer(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.Config
		wantNil bool
	}{
		{
			name: "lorem needs no key",
			cfg:  &config.Config{LLMProvider: ProviderLorem, SummarizerModel: "lorem-fast"},
		},
		{
			name:    "anthropic without key",
			cfg:     &config.Config{LLMProvider: ProviderAnthropic, SummarizerModel: "claude-haiku-4-5"},
			wantNil: true,
		},
		{
			name:    "unparseable model",
			cfg:     &config.Config{LLMProvider: ProviderLorem, SummarizerModel: "gpt-4o"},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewOptionalSummarizer(tt.cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if (got == nil) != tt.wantNil {
				t.Errorf("NewOptionalSummarizer() = %v, wantNil %v", got, tt.wantNil)
			}
		})
	}
}
