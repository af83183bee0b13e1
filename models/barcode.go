package models

import (
	"errors"
	"fmt"
	"math/rand"

	"gorm.io/gorm"
)

// Barcode identity for variant rows. Codes are 13 numeric digits in the
// in-store "2" prefix range so they print as EAN-13-shaped labels.
// Uniqueness is global across businesses, not per branch: a scanned
// code must resolve to exactly one variant row system-wide.

const barcodeAttempts = 5

// GenerateBarcode builds a candidate code from the variant key plus a
// random tail. Callers must pass the result through EnsureUniqueBarcode
// before persisting it.
func GenerateBarcode(productId int, sizeId int, colorId int) string {
	return fmt.Sprintf("2%05d%02d%02d%03d",
		productId%100000,
		sizeId%100,
		colorId%100,
		rand.Intn(1000),
	)
}

// EnsureUniqueBarcode returns a code not yet present on any variant
// row, regenerating the random tail on collision. The check runs on the
// caller's transaction so a concurrent insert still surfaces as a
// duplicate-key error on commit rather than silently passing here.
func EnsureUniqueBarcode(tx *gorm.DB, productId int, sizeId int, colorId int, candidate string) (string, error) {
	if tx == nil {
		return "", errors.New("tx is nil")
	}
	if candidate == "" {
		candidate = GenerateBarcode(productId, sizeId, colorId)
	}

	for attempt := 0; attempt < barcodeAttempts; attempt++ {
		var count int64
		if err := tx.Model(&VariantStock{}).
			Where("barcode = ?", candidate).
			Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = GenerateBarcode(productId, sizeId, colorId)
	}
	return "", errors.New("could not allocate a unique barcode")
}
