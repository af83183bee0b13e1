package models

import (
	"bitbucket.org/blendsoftware/pos_backend/utils"
	"gorm.io/gorm"
)

type stockEffect int

const (
	stockEffectNone stockEffect = iota
	// creditDestination: the goods arrived, book them in at the
	// destination branch.
	stockEffectCreditDestination
	// creditOrigin: the shipment died before arrival, give the goods
	// back to the origin branch.
	stockEffectCreditOrigin
	// debitOrigin: a cancelled shipment is reopened, take the goods out
	// of origin again.
	stockEffectDebitOrigin
)

func shipmentStockEffect(from ShipmentStatus, to ShipmentStatus) stockEffect {
	switch {
	case to == ShipmentStatusReceived && from.IsActive():
		return stockEffectCreditDestination
	case to == ShipmentStatusCancelled && from.IsActive():
		return stockEffectCreditOrigin
	case to == ShipmentStatusPacked && from == ShipmentStatusCancelled:
		return stockEffectDebitOrigin
	}
	return stockEffectNone
}

// ApplyShipmentStockForStatusTransition performs the stock movements a
// status edge implies, inside the caller's transaction. Movements in
// the Packed -> InTransit -> Delivered chain carry none: origin was
// already debited at creation and destination is only credited on
// Received. Detail barcodes are offered as candidates when a credit has
// to create a missing variant row, so a variant that exists at exactly
// one branch keeps its barcode across the transfer.
func ApplyShipmentStockForStatusTransition(tx *gorm.DB, shipment *Shipment, oldStatus ShipmentStatus) error {
	if shipment == nil {
		return nil
	}
	if oldStatus == shipment.CurrentStatus {
		return nil
	}

	effect := shipmentStockEffect(oldStatus, shipment.CurrentStatus)
	if effect == stockEffectNone {
		return nil
	}

	for _, detail := range shipment.Details {
		var branchId int
		delta := detail.Qty

		switch effect {
		case stockEffectCreditDestination:
			branchId = shipment.DestinationBranchId
		case stockEffectCreditOrigin:
			branchId = shipment.OriginBranchId
		case stockEffectDebitOrigin:
			branchId = shipment.OriginBranchId
			delta = detail.Qty.Neg()
		}

		if _, err := AdjustVariantStock(tx, shipment.BusinessId,
			detail.ProductId, detail.SizeId, detail.ColorId, branchId, delta, detail.Barcode); err != nil {
			return err
		}
	}

	return nil
}

// ReceiveShipmentByBarcode resolves a scanned barcode against a pending
// incoming shipment's lines. It is a read helper for the receiving
// screen; the actual stock movement still goes through
// TransitionShipment.
func ReceiveShipmentByBarcode(shipment *Shipment, barcode string) (*ShipmentDetail, error) {
	if shipment == nil {
		return nil, utils.ErrorRecordNotFound
	}
	for i := range shipment.Details {
		if shipment.Details[i].Barcode == barcode {
			return &shipment.Details[i], nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}
