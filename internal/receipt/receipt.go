package receipt

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-scanner/internal/category"
)

// TypeExpense is the only record type produced from receipts
const TypeExpense = "expense"

// DefaultDescription is used when a receipt has neither merchant nor note
const DefaultDescription = "Expense (from receipt)"

// Receipt represents a receipt-backed transaction
type Receipt struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Amount       decimal.Decimal   `json:"amount"`
	Description  string            `json:"description"`
	Category     category.Category `json:"category"`
	Date         time.Time         `json:"date"`
	DetectedDate *time.Time        `json:"detected_date,omitempty"` // Date printed on the receipt, if found
	RawText      string            `json:"raw_text"`
	Filename     string            `json:"filename"`
	ContentType  string            `json:"content_type"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
