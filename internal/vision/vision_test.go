package vision

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/shared/config"
	"github.com/triveda-health/platform/internal/shared/errors"
)

type fakeAnalyzer struct {
	response string
	err      error
	calls    int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, kind findings.AnalysisKind, image Image) (string, error) {
	f.calls++
	return f.response, f.err
}

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}

func testConfig() config.VisionConfig {
	return config.VisionConfig{
		Enabled:           true,
		TimeoutSeconds:    1,
		Retries:           1,
		MaxImageBytes:     1 << 20,
		RequestsPerMinute: 600,
	}
}

func TestSniffMediaType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", jpegHeader, "image/jpeg"},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00}, "image/png"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"gif", []byte("GIF89a"), ""},
		{"truncated", []byte{0xFF}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sniffMediaType(tt.data); got != tt.want {
				t.Errorf("sniffMediaType = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractValidation(t *testing.T) {
	extractor := NewExtractor(&fakeAnalyzer{}, testConfig())
	ctx := context.Background()

	_, err := extractor.Extract(ctx, findings.KindPulse, jpegHeader)
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("non-image kind: expected ErrInvalidInput, got %v", err)
	}

	_, err = extractor.Extract(ctx, findings.KindTongue, nil)
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("empty upload: expected ErrInvalidInput, got %v", err)
	}

	_, err = extractor.Extract(ctx, findings.KindTongue, []byte("GIF89a not an accepted format"))
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("unsupported format: expected ErrInvalidInput, got %v", err)
	}

	big := make([]byte, (1<<20)+1)
	copy(big, jpegHeader)
	_, err = extractor.Extract(ctx, findings.KindTongue, big)
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("oversized upload: expected ErrInvalidInput, got %v", err)
	}
}

func TestExtractDisabledProvider(t *testing.T) {
	extractor := NewExtractor(nil, testConfig())

	_, err := extractor.Extract(context.Background(), findings.KindTongue, jpegHeader)
	if !errors.Is(err, errors.ErrAnalyzerUnavailable) {
		t.Errorf("expected ErrAnalyzerUnavailable, got %v", err)
	}
}

func TestExtractParsesResponse(t *testing.T) {
	analyzer := &fakeAnalyzer{response: `{
		"attributes": {"color": "red", "coating": "yellow", "luster": "bright"},
		"confidence": 0.85,
		"advisory": ["slight tremor observed"]
	}`}
	extractor := NewExtractor(analyzer, testConfig())

	bag, err := extractor.Extract(context.Background(), findings.KindTongue, jpegHeader)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if v, _ := bag.Get(findings.AttrColor); v != "red" {
		t.Errorf("color = %q, want red", v)
	}
	if v, _ := bag.Get(findings.AttrCoating); v != "yellow" {
		t.Errorf("coating = %q, want yellow", v)
	}
	// luster is not a tongue attribute; must be lowered to unknown
	if _, ok := bag.Get(findings.AttrLuster); ok {
		t.Error("out-of-domain attribute should have been dropped")
	}
	if bag.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", bag.Confidence)
	}
	if len(bag.Advisory) != 1 {
		t.Errorf("advisory = %v, want 1 note", bag.Advisory)
	}
}

func TestExtractStripsFences(t *testing.T) {
	analyzer := &fakeAnalyzer{response: "```json\n{\"attributes\": {\"color\": \"pale\"}, \"confidence\": 0.6}\n```"}
	extractor := NewExtractor(analyzer, testConfig())

	bag, err := extractor.Extract(context.Background(), findings.KindTongue, jpegHeader)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v, _ := bag.Get(findings.AttrColor); v != "pale" {
		t.Errorf("color = %q, want pale", v)
	}
}

func TestExtractUnparseableOutput(t *testing.T) {
	analyzer := &fakeAnalyzer{response: "the tongue looks somewhat pale to me"}
	extractor := NewExtractor(analyzer, testConfig())

	bag, err := extractor.Extract(context.Background(), findings.KindTongue, jpegHeader)
	if err != nil {
		t.Fatalf("unparseable output must not fail extraction: %v", err)
	}
	if !bag.IsEmpty() {
		t.Error("expected an empty bag")
	}
	if bag.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", bag.Confidence)
	}
	if err := bag.Validate(); err != nil {
		t.Errorf("degraded bag must stay schema-valid: %v", err)
	}
}

func TestExtractRetriesOnce(t *testing.T) {
	analyzer := &fakeAnalyzer{err: fmt.Errorf("upstream 529")}
	extractor := NewExtractor(analyzer, testConfig())

	_, err := extractor.Extract(context.Background(), findings.KindTongue, jpegHeader)
	if !errors.Is(err, errors.ErrAnalyzerUnavailable) {
		t.Errorf("expected ErrAnalyzerUnavailable, got %v", err)
	}
	if analyzer.calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", analyzer.calls)
	}
}

func TestExtractClampsConfidence(t *testing.T) {
	analyzer := &fakeAnalyzer{response: `{"attributes": {}, "confidence": 1.7}`}
	extractor := NewExtractor(analyzer, testConfig())

	bag, err := extractor.Extract(context.Background(), findings.KindTongue, jpegHeader)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if bag.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", bag.Confidence)
	}
}

func TestSystemPromptListsDomains(t *testing.T) {
	prompt := systemPrompt(findings.KindTongue)
	for _, want := range []string{"color", "pale, pink, red, crimson, purple, dark", "JSON only"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
