package models

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"bitbucket.org/blendsoftware/pos_backend/config"
	"bitbucket.org/blendsoftware/pos_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Shipment is the ledger header of an inter-branch transfer. Rows are
// created once in Packed and never deleted; status moves only through
// TransitionShipment.
type Shipment struct {
	ID                  int              `gorm:"primary_key" json:"id"`
	BusinessId          string           `gorm:"index;not null" json:"business_id"`
	ShipmentNumber      string           `gorm:"size:255;not null" json:"shipment_number"`
	OriginBranchId      int              `gorm:"index;not null" json:"origin_branch_id"`
	DestinationBranchId int              `gorm:"index;not null" json:"destination_branch_id"`
	CurrentStatus       ShipmentStatus   `gorm:"type:enum('Packed','InTransit','Delivered','Received','Cancelled');not null" json:"current_status"`
	TotalQty            decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"total_qty"`
	TotalValue          decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"total_value"`
	Notes               string           `gorm:"type:text" json:"notes"`
	CreatedBy           int              `gorm:"index" json:"created_by"`
	ShippedAt           *time.Time       `json:"shipped_at"`
	DeliveredAt         *time.Time       `json:"delivered_at"`
	ReceivedAt          *time.Time       `json:"received_at"`
	Details             []ShipmentDetail `gorm:"foreignKey:ShipmentId" json:"details"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// ShipmentDetail is one immutable line of a shipment: the variant moved
// plus name/price/barcode snapshots frozen at creation time.
// VariantStockId is a non-owning back-reference to the origin row.
type ShipmentDetail struct {
	ID             int             `gorm:"primary_key" json:"id"`
	ShipmentId     int             `gorm:"index;not null" json:"shipment_id"`
	ProductId      int             `gorm:"index;not null" json:"product_id"`
	VariantStockId *int            `gorm:"index" json:"variant_stock_id"`
	SizeId         int             `gorm:"not null;default:0" json:"size_id"`
	ColorId        int             `gorm:"not null;default:0" json:"color_id"`
	Name           string          `gorm:"size:255;not null" json:"name"`
	Barcode        string          `gorm:"size:100" json:"barcode"`
	Qty            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewShipment struct {
	ShipmentNumber      string              `json:"shipment_number" validate:"required"`
	OriginBranchId      int                 `json:"origin_branch_id" validate:"required"`
	DestinationBranchId int                 `json:"destination_branch_id" validate:"required"`
	Notes               string              `json:"notes"`
	Details             []NewShipmentDetail `json:"details" validate:"required,min=1,dive"`
}

type NewShipmentDetail struct {
	ProductId int             `json:"product_id" validate:"required"`
	SizeId    int             `json:"size_id"`
	ColorId   int             `json:"color_id"`
	Qty       decimal.Decimal `json:"qty"`
}

// shipmentTransitions is the whole transition graph. Received is
// reachable from any active state (a scan at the destination settles
// the shipment no matter which hop was recorded last); Cancelled ->
// Packed is the explicit reopen, which re-deducts origin stock.
var shipmentTransitions = map[ShipmentStatus][]ShipmentStatus{
	ShipmentStatusPacked:    {ShipmentStatusInTransit, ShipmentStatusReceived, ShipmentStatusCancelled},
	ShipmentStatusInTransit: {ShipmentStatusDelivered, ShipmentStatusReceived, ShipmentStatusCancelled},
	ShipmentStatusDelivered: {ShipmentStatusReceived, ShipmentStatusCancelled},
	ShipmentStatusReceived:  {},
	ShipmentStatusCancelled: {ShipmentStatusPacked},
}

func canTransitionShipment(from ShipmentStatus, to ShipmentStatus) bool {
	for _, allowed := range shipmentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func shipmentDebugEnabled() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("DEBUG_SHIPMENT")), "true")
}

// validate input for create.

func (input *NewShipment) validate(ctx context.Context, businessId string) error {
	if input.OriginBranchId == input.DestinationBranchId {
		return utils.NewValidationError("shipments cannot be made within the same branch. please choose a different one and proceed")
	}
	if err := utils.ValidateResourceId[Branch](ctx, businessId, input.OriginBranchId); err != nil {
		return utils.NewValidationError("origin branch not found")
	}
	if err := utils.ValidateResourceId[Branch](ctx, businessId, input.DestinationBranchId); err != nil {
		return utils.NewValidationError("destination branch not found")
	}
	for _, item := range input.Details {
		if !item.Qty.IsPositive() {
			return utils.NewValidationError("shipment quantity must be positive")
		}
		if err := utils.ValidateResourceId[Product](ctx, businessId, item.ProductId); err != nil {
			return utils.NewValidationError("product not found")
		}
	}
	return nil
}

// CreateShipment deducts origin stock for every line and persists the
// header plus details in Packed, all inside one transaction. Any
// insufficient line rolls the whole creation back; destination stock is
// untouched until the Received transition.
func CreateShipment(ctx context.Context, input *NewShipment) (*Shipment, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)
	logger := config.GetLogger()
	debug := shipmentDebugEnabled()

	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	releaseLock, err := utils.BusinessLock(ctx, businessId, "stockLock", "shipment.go", "CreateShipment")
	if err != nil {
		return nil, err
	}
	defer releaseLock()

	if debug {
		logger.WithFields(logrus.Fields{
			"field":                 "CreateShipment",
			"business_id":           businessId,
			"shipment_number":       input.ShipmentNumber,
			"origin_branch_id":      input.OriginBranchId,
			"destination_branch_id": input.DestinationBranchId,
			"details_count":         len(input.Details),
		}).Info("begin shipment create")
	}

	tx := db.Begin()

	var details []ShipmentDetail
	var totalQty decimal.Decimal
	var totalValue decimal.Decimal

	for _, item := range input.Details {
		product, err := utils.FetchModel[Product](ctx, businessId, item.ProductId)
		if err != nil {
			tx.Rollback()
			return nil, err
		}

		variant, err := AdjustVariantStock(tx.WithContext(ctx), businessId,
			item.ProductId, item.SizeId, item.ColorId, input.OriginBranchId, item.Qty.Neg(), "")
		if err != nil {
			if debug {
				logger.WithFields(logrus.Fields{
					"field":       "CreateShipment",
					"business_id": businessId,
					"product_id":  item.ProductId,
					"stage":       "deduct_origin",
					"error":       err.Error(),
				}).Error("shipment origin deduction failed; rollback")
			}
			tx.Rollback()
			return nil, err
		}

		variantId := variant.ID
		details = append(details, ShipmentDetail{
			ProductId:      item.ProductId,
			VariantStockId: &variantId,
			SizeId:         item.SizeId,
			ColorId:        item.ColorId,
			Name:           product.Name,
			Barcode:        variant.Barcode,
			Qty:            item.Qty,
			UnitPrice:      product.SalesPrice,
		})
		totalQty = totalQty.Add(item.Qty)
		totalValue = totalValue.Add(item.Qty.Mul(product.SalesPrice))
	}

	shipment := Shipment{
		BusinessId:          businessId,
		ShipmentNumber:      input.ShipmentNumber,
		OriginBranchId:      input.OriginBranchId,
		DestinationBranchId: input.DestinationBranchId,
		CurrentStatus:       ShipmentStatusPacked,
		TotalQty:            totalQty,
		TotalValue:          totalValue,
		Notes:               input.Notes,
		CreatedBy:           userId,
		Details:             details,
	}

	if err := tx.WithContext(ctx).Create(&shipment).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if debug {
		logger.WithFields(logrus.Fields{
			"field":       "CreateShipment",
			"business_id": businessId,
			"shipment_id": shipment.ID,
			"status":      shipment.CurrentStatus,
			"total_value": shipment.TotalValue,
		}).Info("shipment committed")
	}

	return &shipment, nil
}

// TransitionShipment is the only mutator of Shipment.CurrentStatus. The
// status write is a compare-and-swap on the previously read status, so
// of two concurrent transitions on the same shipment exactly one wins;
// the loser gets ErrConcurrencyConflict and may retry with a fresh
// read. A disallowed edge fails before any write.
func TransitionShipment(ctx context.Context, id int, newStatus ShipmentStatus) (*Shipment, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	logger := config.GetLogger()
	debug := shipmentDebugEnabled()

	shipment, err := utils.FetchModel[Shipment](ctx, businessId, id, "Details")
	if err != nil {
		return nil, err
	}
	oldStatus := shipment.CurrentStatus

	if !canTransitionShipment(oldStatus, newStatus) {
		return nil, &utils.InvalidTransitionError{From: oldStatus.String(), To: newStatus.String()}
	}

	if shipmentStockEffect(oldStatus, newStatus) != stockEffectNone {
		releaseLock, err := utils.BusinessLock(ctx, businessId, "stockLock", "shipment.go", "TransitionShipment")
		if err != nil {
			return nil, err
		}
		defer releaseLock()
	}

	if debug {
		logger.WithFields(logrus.Fields{
			"field":       "TransitionShipment",
			"business_id": businessId,
			"shipment_id": shipment.ID,
			"from_status": oldStatus,
			"to_status":   newStatus,
		}).Info("applying shipment status transition")
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{"CurrentStatus": newStatus}
	switch newStatus {
	case ShipmentStatusInTransit:
		updates["ShippedAt"] = &now
	case ShipmentStatusDelivered:
		updates["DeliveredAt"] = &now
	case ShipmentStatusReceived:
		updates["ReceivedAt"] = &now
	case ShipmentStatusPacked:
		// Reopen: the shipment starts its journey again.
		updates["ShippedAt"] = nil
		updates["DeliveredAt"] = nil
		updates["ReceivedAt"] = nil
	}

	tx := db.Begin()

	res := tx.WithContext(ctx).Model(&Shipment{}).
		Where("id = ? AND business_id = ? AND current_status = ?", id, businessId, oldStatus).
		Updates(updates)
	if res.Error != nil {
		tx.Rollback()
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Someone else moved the shipment between our read and this write.
		tx.Rollback()
		return nil, utils.ErrConcurrencyConflict
	}
	shipment.CurrentStatus = newStatus

	if err := ApplyShipmentStockForStatusTransition(tx.WithContext(ctx), shipment, oldStatus); err != nil {
		if debug {
			logger.WithFields(logrus.Fields{
				"field":       "TransitionShipment",
				"business_id": businessId,
				"shipment_id": shipment.ID,
				"stage":       "apply_stock",
				"error":       err.Error(),
			}).Error("shipment stock side-effects failed; rollback")
		}
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return utils.FetchModel[Shipment](ctx, businessId, id, "Details")
}

func GetShipment(ctx context.Context, id int) (*Shipment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	return utils.FetchModel[Shipment](ctx, businessId, id, "Details")
}

// ListPendingShipments returns the open (non-terminal) shipments for
// one branch, either arriving at it or leaving it.
func ListPendingShipments(ctx context.Context, branchId int, direction ShipmentDirection) ([]*Shipment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateResourceId[Branch](ctx, businessId, branchId); err != nil {
		return nil, utils.NewValidationError("branch not found")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("current_status IN ?", []ShipmentStatus{
			ShipmentStatusPacked, ShipmentStatusInTransit, ShipmentStatusDelivered,
		})

	switch direction {
	case ShipmentDirectionIncoming:
		dbCtx = dbCtx.Where("destination_branch_id = ?", branchId)
	case ShipmentDirectionOutgoing:
		dbCtx = dbCtx.Where("origin_branch_id = ?", branchId)
	default:
		return nil, utils.NewValidationError("invalid shipment direction")
	}

	var shipments []*Shipment
	if err := dbCtx.Preload("Details").Order("created_at DESC").Find(&shipments).Error; err != nil {
		return nil, err
	}
	return shipments, nil
}
