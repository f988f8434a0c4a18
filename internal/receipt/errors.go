package receipt

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("receipt not found")

	// ErrReceiptExists is returned when the receipt number is already in the ledger
	ErrReceiptExists = errors.New("save skipped because the receipt number already exists")

	// ErrFileExists is returned when the files of an image were already saved
	ErrFileExists = errors.New("save skipped because the files for this image already exist")

	// ErrNotExtracted is returned when saving the placeholder receipt
	ErrNotExtracted = errors.New("receipt could not be extracted and cannot be saved")
)

// isDuplicate detects unique-constraint violations across drivers that
// do not map to gorm.ErrDuplicatedKey
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// sqlite: "UNIQUE constraint failed", postgres: "duplicate key value violates unique constraint"
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
