// Package ocr runs text recognition on normalized receipt images. A Session owns one
// lazily built engine and lets a single recognition run at a time.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/zombor/receipt-scanner/internal/imaging"
)

var (
	// ErrBusy is returned when a recognition is already in flight on the Session.
	ErrBusy = errors.New("ocr already running")
	// ErrOCRFailed wraps engine construction and recognition failures.
	ErrOCRFailed = errors.New("ocr failed")
)

// ProgressFunc receives recognition progress as an integer percentage.
type ProgressFunc func(percent int)

// Engine recognizes text in an encoded image.
type Engine interface {
	// Recognize returns the text found in image. It may report progress in 0..100;
	// progress may be nil.
	Recognize(ctx context.Context, image []byte, progress ProgressFunc) (string, error)
	// Close releases the engine's resources
	Close() error
}

// EngineFactory builds an Engine. It is called lazily and again after a failed build.
type EngineFactory func(ctx context.Context) (Engine, error)

// State reports whether a Session is recognizing.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Session caches one Engine and enforces single-flight recognition.
// The engine field is only touched by the goroutine holding the running flag.
type Session struct {
	factory EngineFactory
	running atomic.Bool
	engine  Engine
}

// NewSession creates a Session. The engine is not built until the first Recognize.
func NewSession(factory EngineFactory) *Session {
	return &Session{factory: factory}
}

// State returns the current pipeline state.
func (s *Session) State() State {
	if s.running.Load() {
		return Running
	}
	return Idle
}

// Recognize runs OCR on img. A call made while another is in flight fails with ErrBusy
// and leaves the in-flight call untouched.
func (s *Session) Recognize(ctx context.Context, img *imaging.NormalizedImage, progress ProgressFunc) (string, error) {
	if !s.running.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer s.running.Store(false)

	if img == nil || len(img.Data) == 0 {
		return "", fmt.Errorf("%w: no image data", ErrOCRFailed)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrOCRFailed, err)
	}

	engine, err := s.loadEngine(ctx)
	if err != nil {
		return "", err
	}

	report := newProgressReporter(progress)
	report(0)

	text, err := engine.Recognize(ctx, img.Data, report)
	if err != nil {
		slog.Warn("OCR engine failed", "error", err, "width", img.Width, "height", img.Height)
		return "", fmt.Errorf("%w: %w", ErrOCRFailed, err)
	}

	report(100)
	return text, nil
}

// Close releases the cached engine. It fails with ErrBusy while a recognition is running.
func (s *Session) Close() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)

	if s.engine == nil {
		return nil
	}
	err := s.engine.Close()
	s.engine = nil
	return err
}

func (s *Session) loadEngine(ctx context.Context) (Engine, error) {
	if s.engine != nil {
		return s.engine, nil
	}
	slog.Info("Initializing OCR engine...")
	engine, err := s.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing engine: %w", ErrOCRFailed, err)
	}
	s.engine = engine
	return engine, nil
}

// orNoop returns progress, or a callback that discards reports when it is nil.
func orNoop(progress ProgressFunc) ProgressFunc {
	if progress == nil {
		return func(int) {}
	}
	return progress
}

// newProgressReporter clamps reports to 0..100 and forwards only increases.
func newProgressReporter(progress ProgressFunc) ProgressFunc {
	last := -1
	return func(percent int) {
		percent = max(0, min(100, percent))
		if percent <= last {
			return
		}
		last = percent
		if progress != nil {
			progress(percent)
		}
	}
}
