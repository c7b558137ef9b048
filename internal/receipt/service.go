package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-scanner/internal/category"
	"github.com/zombor/receipt-scanner/internal/extract"
	"github.com/zombor/receipt-scanner/internal/imaging"
	"github.com/zombor/receipt-scanner/internal/ocr"
)

// ErrInvalidReceipt is returned when a receipt cannot be saved as given
var ErrInvalidReceipt = errors.New("invalid receipt")

// Scanner turns images or reviewed text into pipeline results
type Scanner interface {
	Scan(ctx context.Context, raw imaging.RawImage, progress ocr.ProgressFunc) (*Result, error)
	Analyze(text string) (*Result, error)
}

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt operations
type Service struct {
	db              DB
	scanner         Scanner
	storage         Storage
	idGenerator     IDGenerator
	timeSource      TimeSource
	useDetectedDate bool
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// SetUseDetectedDate makes drafts take their date from the receipt text when
// one was found. By default drafts are dated now.
func (s *Service) SetUseDetectedDate(enabled bool) {
	s.useDetectedDate = enabled
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Truncate to reasonable length (50 chars for base, plus extension)
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// ScanReceipt stores an uploaded receipt image and runs it through the
// pipeline. The returned draft is not saved; confirm it with CreateReceipt.
// When no amount could be found the draft is returned along with
// ErrNoAmountFound so the amount can be entered by hand.
func (s *Service) ScanReceipt(ctx context.Context, filename string, data []byte, contentType string) (*Receipt, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	progress := func(percent int) {
		slog.Debug("OCR progress", "filename", filename, "percent", percent)
	}
	result, err := s.scanner.Scan(ctx, imaging.RawImage{Data: data, ContentType: contentType}, progress)
	if err != nil && !errors.Is(err, ErrNoAmountFound) {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		// Clean up the saved file since scanning failed
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to delete file", "filename", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	draft := &Receipt{
		ID:          id,
		Type:        TypeExpense,
		Filename:    savedPath,
		ContentType: contentType,
	}
	s.applyResult(draft, result, now)

	if err != nil {
		slog.Info("No amount found on receipt", "filename", filename)
		return draft, err
	}
	return draft, nil
}

// Reextract re-runs extraction on reviewed OCR text, keeping the draft's
// identity and file. Like ScanReceipt it returns the updated draft together
// with ErrNoAmountFound when the text has no amount.
func (s *Service) Reextract(draft *Receipt, text string) (*Receipt, error) {
	if draft == nil {
		draft = &Receipt{}
	}
	result, err := s.scanner.Analyze(text)
	if err != nil && !errors.Is(err, ErrNoAmountFound) {
		return nil, fmt.Errorf("analyzing text: %w", err)
	}

	updated := *draft
	updated.Type = TypeExpense
	s.applyResult(&updated, result, s.timeSource.Now())
	return &updated, err
}

func (s *Service) applyResult(r *Receipt, result *Result, now time.Time) {
	if result == nil {
		result = &Result{Category: category.Other}
	}
	fields := result.Fields

	r.RawText = result.Text
	r.Category = result.Category
	r.Description = describe(fields)
	r.Amount = decimal.Zero
	if fields.HasAmount() {
		r.Amount = fields.Amount.Decimal
	}
	r.DetectedDate = fields.Date
	r.Date = now
	if s.useDetectedDate && fields.Date != nil {
		r.Date = *fields.Date
	}
}

func describe(fields extract.Fields) string {
	switch {
	case fields.Merchant != "":
		return fields.Merchant
	case fields.Note != "":
		return fields.Note
	default:
		return DefaultDescription
	}
}

// CreateReceipt validates and saves a reviewed receipt. The amount is
// rounded to two decimal places and must be positive.
func (s *Service) CreateReceipt(r *Receipt) (*Receipt, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: missing receipt", ErrInvalidReceipt)
	}

	amount := r.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidReceipt)
	}

	cat := category.Other
	if r.Category != "" {
		parsed, err := category.Parse(string(r.Category))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidReceipt, err)
		}
		cat = parsed
	}

	now := s.timeSource.Now()
	receipt := *r
	receipt.Amount = amount
	receipt.Category = cat
	receipt.Type = TypeExpense
	receipt.Description = strings.TrimSpace(receipt.Description)
	if receipt.Description == "" {
		receipt.Description = DefaultDescription
	}
	if receipt.Date.IsZero() {
		receipt.Date = now
	}
	receipt.CreatedAt = now
	receipt.UpdatedAt = now

	if receipt.ID == "" {
		receipt.ID = s.idGenerator.Generate()
	}

	// Only the upload ScanReceipt stored for this draft may be attached
	if receipt.Filename != "" && !strings.HasPrefix(receipt.Filename, receipt.ID+"_") {
		slog.Warn("Dropping file not issued for receipt", "id", receipt.ID, "filename", receipt.Filename)
		receipt.Filename = ""
		receipt.ContentType = ""
	}

	err := s.db.CreateReceipt(&receipt)
	if errors.Is(err, ErrFileInUse) {
		slog.Warn("Dropping file owned by another receipt", "id", receipt.ID, "filename", receipt.Filename)
		receipt.Filename = ""
		receipt.ContentType = ""
		err = s.db.CreateReceipt(&receipt)
	}
	if errors.Is(err, ErrExists) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReceipt, err)
	}
	if err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Saved receipt", "id", receipt.ID, "amount", receipt.Amount.StringFixed(2), "category", receipt.Category)
	return &receipt, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts, newest transaction first
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its file
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if receipt.Filename != "" {
		if err := s.storage.Delete(receipt.Filename); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete file", "filename", receipt.Filename, "error", err)
		}
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the file data for a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.Filename == "" {
		return nil, "", fmt.Errorf("receipt %s has no file: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, receipt.ContentType, nil
}
