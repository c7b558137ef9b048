package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// TesseractConfig configures the local Tesseract engine.
type TesseractConfig struct {
	Language       string
	TessdataPrefix string
	// PageSegMode is passed through to tesseract; 0 keeps the library default.
	PageSegMode int
}

// Tesseract implements Engine with libtesseract through gosseract
type Tesseract struct {
	client *gosseract.Client
}

// NewTesseractFactory returns an EngineFactory building a Tesseract engine.
func NewTesseractFactory(cfg TesseractConfig) EngineFactory {
	return func(ctx context.Context) (Engine, error) {
		return NewTesseract(cfg)
	}
}

// NewTesseract creates a Tesseract engine
func NewTesseract(cfg TesseractConfig) (*Tesseract, error) {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}

	client := gosseract.NewClient()
	if cfg.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(cfg.TessdataPrefix); err != nil {
			client.Close()
			return nil, fmt.Errorf("setting tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(cfg.Language); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting language: %w", err)
	}
	if cfg.PageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(cfg.PageSegMode)); err != nil {
			client.Close()
			return nil, fmt.Errorf("setting page segmentation mode: %w", err)
		}
	}

	return &Tesseract{client: client}, nil
}

// Recognize extracts text from the image bytes. libtesseract does not expose its
// progress monitor through gosseract, so progress is reported per stage.
func (t *Tesseract) Recognize(ctx context.Context, image []byte, progress ProgressFunc) (string, error) {
	progress = orNoop(progress)
	if err := t.client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("setting image: %w", err)
	}
	progress(10)

	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}
	progress(100)

	return text, nil
}

// Close closes the underlying tesseract client
func (t *Tesseract) Close() error {
	return t.client.Close()
}
