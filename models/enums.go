package models

import (
	"fmt"
)

// ShipmentStatus is the lifecycle state of an inter-branch shipment.
// Only TransitionShipment mutates it; the allowed edges live in
// shipmentTransitions (shipment.go).
type ShipmentStatus string

const (
	ShipmentStatusPacked    ShipmentStatus = "Packed"
	ShipmentStatusInTransit ShipmentStatus = "InTransit"
	ShipmentStatusDelivered ShipmentStatus = "Delivered"
	ShipmentStatusReceived  ShipmentStatus = "Received"
	ShipmentStatusCancelled ShipmentStatus = "Cancelled"
)

func (s ShipmentStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition may leave this
// status, except the explicit Cancelled -> Packed reopen.
func (s ShipmentStatus) IsTerminal() bool {
	return s == ShipmentStatusReceived || s == ShipmentStatusCancelled
}

// IsActive reports whether the shipment still holds in-flight stock:
// deducted at origin, not yet credited anywhere.
func (s ShipmentStatus) IsActive() bool {
	switch s {
	case ShipmentStatusPacked, ShipmentStatusInTransit, ShipmentStatusDelivered:
		return true
	}
	return false
}

func ParseShipmentStatus(value string) (ShipmentStatus, error) {
	statuses := map[string]ShipmentStatus{
		"Packed":    ShipmentStatusPacked,
		"InTransit": ShipmentStatusInTransit,
		"Delivered": ShipmentStatusDelivered,
		"Received":  ShipmentStatusReceived,
		"Cancelled": ShipmentStatusCancelled,
	}
	status, ok := statuses[value]
	if !ok {
		return "", fmt.Errorf("%s is not a valid ShipmentStatus", value)
	}
	return status, nil
}

// ShipmentDirection selects which side of a shipment a branch is on
// when listing pending work.
type ShipmentDirection string

const (
	ShipmentDirectionIncoming ShipmentDirection = "Incoming"
	ShipmentDirectionOutgoing ShipmentDirection = "Outgoing"
)

func ParseShipmentDirection(value string) (ShipmentDirection, error) {
	directions := map[string]ShipmentDirection{
		"Incoming": ShipmentDirectionIncoming,
		"Outgoing": ShipmentDirectionOutgoing,
	}
	direction, ok := directions[value]
	if !ok {
		return "", fmt.Errorf("%s is not a valid ShipmentDirection", value)
	}
	return direction, nil
}
