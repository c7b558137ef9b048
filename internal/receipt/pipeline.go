package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/receipt-scanner/internal/category"
	"github.com/zombor/receipt-scanner/internal/extract"
	"github.com/zombor/receipt-scanner/internal/imaging"
	"github.com/zombor/receipt-scanner/internal/metrics"
	"github.com/zombor/receipt-scanner/internal/ocr"
)

// ErrNoAmountFound means extraction finished without a positive amount.
// The accompanying Result is still usable for manual entry.
var ErrNoAmountFound = errors.New("no amount found")

// Recognizer runs OCR on a normalized image
type Recognizer interface {
	Recognize(ctx context.Context, img *imaging.NormalizedImage, progress ocr.ProgressFunc) (string, error)
	State() ocr.State
}

// Normalizer prepares raw images for OCR
type Normalizer interface {
	Normalize(raw imaging.RawImage) (*imaging.NormalizedImage, error)
}

// Result is the outcome of one pipeline run
type Result struct {
	Text     string
	Fields   extract.Fields
	Category category.Category
}

// Pipeline runs normalize, recognize, extract and categorize in that order
type Pipeline struct {
	normalizer  Normalizer
	recognizer  Recognizer
	categorizer *category.Categorizer
	metrics     *metrics.Recorder
}

// NewPipeline creates a Pipeline. A nil categorizer uses the built-in rules
// and a nil recorder disables metrics.
func NewPipeline(normalizer Normalizer, recognizer Recognizer, categorizer *category.Categorizer, recorder *metrics.Recorder) *Pipeline {
	if categorizer == nil {
		categorizer = category.DefaultCategorizer
	}
	return &Pipeline{
		normalizer:  normalizer,
		recognizer:  recognizer,
		categorizer: categorizer,
		metrics:     recorder,
	}
}

// OCRState reports whether a recognition is in flight
func (p *Pipeline) OCRState() ocr.State {
	return p.recognizer.State()
}

// Scan runs the full pipeline on a raw image
func (p *Pipeline) Scan(ctx context.Context, raw imaging.RawImage, progress ocr.ProgressFunc) (*Result, error) {
	img, err := p.normalizer.Normalize(raw)
	if err != nil {
		p.metrics.ScanFinished(metrics.OutcomeDecodeError)
		return nil, fmt.Errorf("normalizing image: %w", err)
	}

	start := time.Now()
	text, err := p.recognizer.Recognize(ctx, img, progress)
	if err != nil {
		if errors.Is(err, ocr.ErrBusy) {
			p.metrics.ScanFinished(metrics.OutcomeBusy)
		} else {
			p.metrics.ScanFinished(metrics.OutcomeOCRFailed)
		}
		return nil, fmt.Errorf("recognizing text: %w", err)
	}
	p.metrics.ObserveOCR(time.Since(start))
	slog.Debug("OCR finished", "chars", len(text), "duration", time.Since(start))

	result, err := p.Analyze(text)
	if errors.Is(err, ErrNoAmountFound) {
		p.metrics.ScanFinished(metrics.OutcomeNoAmount)
	} else {
		p.metrics.ScanFinished(metrics.OutcomeOK)
	}
	return result, err
}

// Analyze extracts and categorizes OCR text. It is also the entry point for
// reviewed text. When no amount is found the Result is returned together
// with ErrNoAmountFound.
func (p *Pipeline) Analyze(text string) (*Result, error) {
	fields := extract.Extract(text)

	hint := fields.Merchant
	if hint == "" {
		hint = fields.Note
	}
	result := &Result{
		Text:     text,
		Fields:   fields,
		Category: p.categorizer.Categorize(hint),
	}
	p.metrics.Extracted(fields.AmountTier, string(result.Category))

	if !fields.HasAmount() {
		return result, ErrNoAmountFound
	}
	return result, nil
}
