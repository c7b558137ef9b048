package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Buckets. files and byDate are indexes kept in step with receipts.
var (
	receiptsBucket = []byte("receipts")
	filesBucket    = []byte("files")   // stored filename -> receipt ID
	byDateBucket   = []byte("by_date") // dateKey -> receipt ID
)

var (
	// ErrNotFound is returned when a receipt does not exist
	ErrNotFound = errors.New("receipt not found")
	// ErrExists is returned when creating a receipt whose ID is taken
	ErrExists = errors.New("receipt already exists")
	// ErrFileInUse is returned when another receipt already references the file
	ErrFileInUse = errors.New("file belongs to another receipt")
)

// DB stores confirmed receipts
type DB interface {
	// CreateReceipt inserts a new receipt. It fails with ErrExists when the ID
	// is taken and with ErrFileInUse when the file is referenced by another receipt.
	CreateReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts, latest transaction date first
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt and its index entries
	DeleteReceipt(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements DB on a bbolt file
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens or creates the database at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{receiptsBucket, filesBucket, byDateBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// dateKey sorts by transaction time, then ID. The layout is fixed width so
// byte order matches time order.
func dateKey(r *Receipt) []byte {
	return []byte(r.Date.UTC().Format("20060102150405.000000000") + "\x00" + r.ID)
}

// CreateReceipt checks for an existing ID or file and inserts in one transaction
func (b *BoltDB) CreateReceipt(receipt *Receipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		receipts := tx.Bucket(receiptsBucket)
		if receipts.Get([]byte(receipt.ID)) != nil {
			return fmt.Errorf("%w: %s", ErrExists, receipt.ID)
		}

		if receipt.Filename != "" {
			files := tx.Bucket(filesBucket)
			if owner := files.Get([]byte(receipt.Filename)); owner != nil {
				return fmt.Errorf("%w: %s is used by %s", ErrFileInUse, receipt.Filename, owner)
			}
			if err := files.Put([]byte(receipt.Filename), []byte(receipt.ID)); err != nil {
				return fmt.Errorf("indexing file: %w", err)
			}
		}

		if err := tx.Bucket(byDateBucket).Put(dateKey(receipt), []byte(receipt.ID)); err != nil {
			return fmt.Errorf("indexing date: %w", err)
		}
		return receipts.Put([]byte(receipt.ID), data)
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(receiptsBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts walks the date index backwards
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket(receiptsBucket)
		c := tx.Bucket(byDateBucket).Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			data := records.Get(id)
			if data == nil {
				return fmt.Errorf("date index points at missing receipt %s", id)
			}
			var receipt Receipt
			if err := json.Unmarshal(data, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt together with its file and date index entries
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		receipts := tx.Bucket(receiptsBucket)
		data := receipts.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		var receipt Receipt
		if err := json.Unmarshal(data, &receipt); err != nil {
			return fmt.Errorf("unmarshaling receipt: %w", err)
		}

		if receipt.Filename != "" {
			files := tx.Bucket(filesBucket)
			if owner := files.Get([]byte(receipt.Filename)); string(owner) == id {
				if err := files.Delete([]byte(receipt.Filename)); err != nil {
					return fmt.Errorf("unindexing file: %w", err)
				}
			}
		}
		if err := tx.Bucket(byDateBucket).Delete(dateKey(&receipt)); err != nil {
			return fmt.Errorf("unindexing date: %w", err)
		}
		return receipts.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
