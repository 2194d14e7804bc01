package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/shared/config"
	"github.com/triveda-health/platform/internal/shared/errors"
	"github.com/triveda-health/platform/internal/shared/metrics"
)

// Extractor converts an uploaded image into a finding bag. The provider is
// rate limited and retried once; everything past the provider boundary is
// tolerant: malformed model output degrades to an empty bag instead of
// failing the analysis.
type Extractor struct {
	analyzer Analyzer
	config   config.VisionConfig
	limiter  *rate.Limiter
}

// NewExtractor creates an extractor. A nil analyzer means the provider is
// disabled; extraction then fails with AnalyzerUnavailable.
func NewExtractor(analyzer Analyzer, cfg config.VisionConfig) *Extractor {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	return &Extractor{
		analyzer: analyzer,
		config:   cfg,
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
	}
}

// Extract validates the image, calls the vision provider, and returns a
// schema-valid finding bag. Attributes outside the kind's domain are
// lowered to unknown, never rejected.
func (e *Extractor) Extract(ctx context.Context, kind findings.AnalysisKind, image []byte) (findings.Bag, error) {
	mediaType, err := e.validate(kind, image)
	if err != nil {
		return findings.Bag{}, err
	}

	if e.analyzer == nil {
		return findings.Bag{}, errors.AnalyzerUnavailable(nil)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return findings.Bag{}, errors.AnalyzerUnavailable(err)
	}

	text, err := e.callWithRetry(ctx, kind, Image{Data: image, MediaType: mediaType})
	if err != nil {
		return findings.Bag{}, errors.AnalyzerUnavailable(err)
	}

	return parseResponse(kind, text), nil
}

// validate checks the upload against the image kinds, size caps, and
// format magic
func (e *Extractor) validate(kind findings.AnalysisKind, image []byte) (string, error) {
	imageKind := false
	for _, k := range findings.ImageKinds() {
		if k == kind {
			imageKind = true
			break
		}
	}
	if !imageKind {
		return "", errors.InvalidInput("analysis kind does not accept image uploads: " + string(kind))
	}

	if len(image) == 0 {
		return "", errors.InvalidInput("empty image upload")
	}
	maxBytes := e.config.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	if len(image) > maxBytes {
		return "", errors.InvalidInput("image exceeds maximum size")
	}

	mediaType := sniffMediaType(image)
	if mediaType == "" {
		return "", errors.InvalidInput("unsupported image format; expected JPEG, PNG, or WebP")
	}
	return mediaType, nil
}

func (e *Extractor) callWithRetry(ctx context.Context, kind findings.AnalysisKind, image Image) (string, error) {
	timeout := time.Duration(e.config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := 1 + e.config.Retries

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			// Jittered backoff before the retry
			select {
			case <-time.After(500*time.Millisecond + time.Duration(rand.Intn(500))*time.Millisecond):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		text, err := e.analyzer.Analyze(callCtx, kind, image)
		cancel()

		if err == nil {
			metrics.RecordVisionCall(string(kind), time.Since(start))
			return text, nil
		}
		metrics.RecordVisionError(string(kind), "provider")
		log.Printf("vision call failed kind=%s attempt=%d err=%v", kind, attempt+1, err)
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// modelResponse is the expected provider output shape
type modelResponse struct {
	Attributes map[string]string `json:"attributes"`
	Confidence float64           `json:"confidence"`
	Advisory   []string          `json:"advisory"`
}

// parseResponse parses model output into a bag. Unparseable output yields
// a schema-valid empty bag with confidence 0; out-of-domain attributes are
// dropped one by one.
func parseResponse(kind findings.AnalysisKind, text string) findings.Bag {
	bag := findings.NewBag(kind)

	text = stripFences(text)
	var resp modelResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		log.Printf("vision response unparseable kind=%s err=%v", kind, err)
		metrics.RecordVisionError(string(kind), "unparseable")
		return bag
	}

	for name, value := range resp.Attributes {
		attr := findings.Attribute(strings.ToLower(strings.TrimSpace(name)))
		value = strings.ToLower(strings.TrimSpace(value))
		if !bag.Set(attr, value) {
			log.Printf("vision attribute dropped kind=%s attr=%s value=%q", kind, attr, value)
		}
	}

	bag.Confidence = clamp01(resp.Confidence)
	for _, note := range resp.Advisory {
		if note = strings.TrimSpace(note); note != "" {
			bag.Advisory = append(bag.Advisory, note)
		}
	}
	return bag
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sniffMediaType detects the upload format from its magic bytes. Returns
// an empty string for anything other than JPEG, PNG, or WebP.
func sniffMediaType(data []byte) string {
	switch {
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	}
	return ""
}
