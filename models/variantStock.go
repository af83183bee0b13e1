package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/blendsoftware/pos_backend/config"
	"bitbucket.org/blendsoftware/pos_backend/utils"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// VariantStock is the authoritative per-(product, size, color, branch)
// quantity. SizeId/ColorId are 0 for size-less/color-less catalog items
// so the composite unique index stays total. The barcode is unique
// system-wide (see barcode.go).
type VariantStock struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"not null;uniqueIndex:idx_variant_key" json:"business_id"`
	ProductId  int             `gorm:"not null;uniqueIndex:idx_variant_key" json:"product_id"`
	SizeId     int             `gorm:"not null;default:0;uniqueIndex:idx_variant_key" json:"size_id"`
	ColorId    int             `gorm:"not null;default:0;uniqueIndex:idx_variant_key" json:"color_id"`
	BranchId   int             `gorm:"not null;uniqueIndex:idx_variant_key;index" json:"branch_id"`
	Barcode    string          `gorm:"size:100;not null;uniqueIndex" json:"barcode"`
	Qty        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func variantCacheKey(businessId string, barcode string) string {
	return fmt.Sprintf("VariantStock:%s:%s", businessId, barcode)
}

// AdjustVariantStock applies delta to one variant row as a single
// conditional UPDATE; the quantity guard lives in the WHERE clause so a
// concurrent deduction can never drive the row negative. A missing row
// with a positive delta is created on the spot, allocating a barcode
// when the caller carries none. Runs on the caller's transaction; the
// aggregate view is recomputed in the same transaction before return.
func AdjustVariantStock(tx *gorm.DB, businessId string, productId int, sizeId int, colorId int, branchId int, delta decimal.Decimal, barcode string) (*VariantStock, error) {
	if tx == nil {
		return nil, errors.New("tx is nil")
	}
	if delta.IsZero() {
		return nil, utils.NewValidationError("adjustment quantity cannot be zero")
	}

	// Second pass only runs after losing a create race.
	for attempt := 0; attempt < 2; attempt++ {
		res := tx.Model(&VariantStock{}).
			Where("business_id = ? AND product_id = ? AND size_id = ? AND color_id = ? AND branch_id = ?",
				businessId, productId, sizeId, colorId, branchId).
			Where("qty + ? >= 0", delta).
			Update("qty", gorm.Expr("qty + ?", delta))
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			variant, err := fetchVariant(tx, businessId, productId, sizeId, colorId, branchId)
			if err != nil {
				return nil, err
			}
			if err := afterVariantStockChanged(tx, variant); err != nil {
				return nil, err
			}
			return variant, nil
		}

		// No row was updated: either the guard rejected the delta or the
		// row does not exist yet.
		exists, err := variantExists(tx, businessId, productId, sizeId, colorId, branchId)
		if err != nil {
			return nil, err
		}
		if exists || delta.IsNegative() {
			return nil, utils.ErrInsufficientStock
		}

		variant, err := createVariantStock(tx, businessId, productId, sizeId, colorId, branchId, delta, barcode)
		if err != nil {
			if isDuplicateKeyError(err) {
				// Lost a concurrent-create race; the row exists now, so
				// retry the conditional update against it.
				continue
			}
			return nil, err
		}
		if err := afterVariantStockChanged(tx, variant); err != nil {
			return nil, err
		}
		return variant, nil
	}

	return nil, utils.ErrConcurrencyConflict
}

func createVariantStock(tx *gorm.DB, businessId string, productId int, sizeId int, colorId int, branchId int, qty decimal.Decimal, barcode string) (*VariantStock, error) {
	code, err := EnsureUniqueBarcode(tx, productId, sizeId, colorId, barcode)
	if err != nil {
		return nil, err
	}

	variant := VariantStock{
		BusinessId: businessId,
		ProductId:  productId,
		SizeId:     sizeId,
		ColorId:    colorId,
		BranchId:   branchId,
		Barcode:    code,
		Qty:        qty,
	}
	if err := tx.Create(&variant).Error; err != nil {
		return nil, err
	}
	return &variant, nil
}

func fetchVariant(tx *gorm.DB, businessId string, productId int, sizeId int, colorId int, branchId int) (*VariantStock, error) {
	var variant VariantStock
	err := tx.
		Where("business_id = ? AND product_id = ? AND size_id = ? AND color_id = ? AND branch_id = ?",
			businessId, productId, sizeId, colorId, branchId).
		First(&variant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &variant, nil
}

func variantExists(tx *gorm.DB, businessId string, productId int, sizeId int, colorId int, branchId int) (bool, error) {
	var count int64
	err := tx.Model(&VariantStock{}).
		Where("business_id = ? AND product_id = ? AND size_id = ? AND color_id = ? AND branch_id = ?",
			businessId, productId, sizeId, colorId, branchId).
		Count(&count).Error
	return count > 0, err
}

func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// afterVariantStockChanged is the single hook run after every variant
// mutation: the aggregate per-(product, branch) view is recomputed in
// the same transaction. The barcode cache needs no invalidation here;
// it only maps a barcode to its row id, which never changes.
func afterVariantStockChanged(tx *gorm.DB, variant *VariantStock) error {
	return RecomputeStockSummary(tx, variant.BusinessId, variant.ProductId, variant.BranchId)
}

// GetVariantStock returns the on-hand quantity of one variant at one
// branch. Absence of a row means zero stock, not an error.
func GetVariantStock(ctx context.Context, productId int, sizeId int, colorId int, branchId int) (decimal.Decimal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return decimal.Zero, errors.New("business id is required")
	}

	db := config.GetDB()
	variant, err := fetchVariant(db.WithContext(ctx), businessId, productId, sizeId, colorId, branchId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return variant.Qty, nil
}

// FindVariantByBarcode resolves a scanned code to its variant row. The
// cache holds only the barcode -> row id mapping (which is immutable),
// so the quantity is always read from the database and can never be
// served stale, no matter when the cache entry was written.
func FindVariantByBarcode(ctx context.Context, barcode string) (*VariantStock, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()

	var cachedId int
	hit, err := config.GetRedisObject(variantCacheKey(businessId, barcode), &cachedId)
	if err == nil && hit && cachedId > 0 {
		var variant VariantStock
		err := db.WithContext(ctx).
			Where("business_id = ? AND id = ?", businessId, cachedId).
			First(&variant).Error
		if err == nil {
			return &variant, nil
		}
		// Cached id no longer resolves; fall through to the index lookup.
	}

	var variant VariantStock
	err = db.WithContext(ctx).
		Where("business_id = ? AND barcode = ?", businessId, barcode).
		First(&variant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	_ = config.SetRedisObject(variantCacheKey(businessId, barcode), &variant.ID, time.Hour)
	return &variant, nil
}

// ListVariantStocks returns every variant row held at one branch.
func ListVariantStocks(ctx context.Context, branchId int) ([]*VariantStock, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateResourceId[Branch](ctx, businessId, branchId); err != nil {
		return nil, errors.New("branch not found")
	}

	var variants []*VariantStock
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("business_id = ? AND branch_id = ?", businessId, branchId).
		Order("product_id, size_id, color_id").
		Find(&variants).Error; err != nil {
		return nil, err
	}
	return variants, nil
}
