package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/blendsoftware/pos_backend/config"
	"bitbucket.org/blendsoftware/pos_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockSummary is the denormalized per-(product, branch) total, derived
// from VariantStock rows. Variant rows are the source of truth; every
// variant mutation recomputes the matching summary row before its
// transaction commits. Drift (e.g. from manual fixes) self-heals on the
// next recompute and is never fatal.
type StockSummary struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"not null;uniqueIndex:idx_summary_key" json:"business_id"`
	ProductId  int             `gorm:"not null;uniqueIndex:idx_summary_key" json:"product_id"`
	BranchId   int             `gorm:"not null;uniqueIndex:idx_summary_key;index" json:"branch_id"`
	CurrentQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_qty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func firstOrCreateStockSummary(tx *gorm.DB, businessId string, productId int, branchId int) (*StockSummary, error) {
	stockSummary := StockSummary{
		BusinessId: businessId,
		ProductId:  productId,
		BranchId:   branchId,
	}
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND product_id = ? AND branch_id = ?", businessId, productId, branchId).
		FirstOrCreate(&stockSummary)
	if result.Error != nil {
		return nil, result.Error
	}
	return &stockSummary, nil
}

// RecomputeStockSummary rewrites one summary row from the sum of its
// variant rows. Scoped to a single (product, branch); never a full-table
// pass. Runs on the caller's transaction.
func RecomputeStockSummary(tx *gorm.DB, businessId string, productId int, branchId int) error {
	stockSummary, err := firstOrCreateStockSummary(tx, businessId, productId, branchId)
	if err != nil {
		return err
	}

	return tx.Exec(`
		UPDATE stock_summaries
		SET current_qty = (
			SELECT COALESCE(SUM(qty), 0)
			FROM variant_stocks
			WHERE business_id = ? AND product_id = ? AND branch_id = ?
		)
		WHERE id = ?`,
		businessId, productId, branchId, stockSummary.ID,
	).Error
}

// GetAggregateStock returns the denormalized total for one product at
// one branch. A missing row means zero.
func GetAggregateStock(ctx context.Context, productId int, branchId int) (decimal.Decimal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return decimal.Zero, errors.New("business id is required")
	}

	db := config.GetDB()
	var summary StockSummary
	err := db.WithContext(ctx).
		Where("business_id = ? AND product_id = ? AND branch_id = ?", businessId, productId, branchId).
		First(&summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return summary.CurrentQty, nil
}

// GetAvailableStocks lists non-zero aggregate rows for one branch.
func GetAvailableStocks(ctx context.Context, branchId int) ([]*StockSummary, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateResourceId[Branch](ctx, businessId, branchId); err != nil {
		return nil, errors.New("branch not found")
	}

	var stockSummaries []*StockSummary
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("branch_id = ?", branchId).
		Not("current_qty = 0").
		Find(&stockSummaries).Error; err != nil {
		return nil, err
	}
	return stockSummaries, nil
}

type summaryScope struct {
	BusinessId string
	ProductId  int
	BranchId   int
}

// RebuildStockSummaries recomputes every (business, product, branch)
// pair that appears in either table, or only one business's pairs when
// businessId is non-empty. Operational tool for healing drift at scale
// (cmd/stock-rebuild); each pair commits independently so one bad key
// cannot wedge the whole rebuild.
func RebuildStockSummaries(db *gorm.DB, businessId string) (int, error) {
	var scopes []summaryScope
	query := `
		SELECT business_id, product_id, branch_id FROM variant_stocks
		UNION
		SELECT business_id, product_id, branch_id FROM stock_summaries`
	var args []interface{}
	if businessId != "" {
		query = `
		SELECT business_id, product_id, branch_id FROM variant_stocks WHERE business_id = ?
		UNION
		SELECT business_id, product_id, branch_id FROM stock_summaries WHERE business_id = ?`
		args = append(args, businessId, businessId)
	}
	err := db.Raw(query, args...).Scan(&scopes).Error
	if err != nil {
		return 0, err
	}

	rebuilt := 0
	for _, scope := range scopes {
		tx := db.Begin()
		if err := RecomputeStockSummary(tx, scope.BusinessId, scope.ProductId, scope.BranchId); err != nil {
			tx.Rollback()
			return rebuilt, err
		}
		if err := tx.Commit().Error; err != nil {
			return rebuilt, err
		}
		rebuilt++
	}
	return rebuilt, nil
}
