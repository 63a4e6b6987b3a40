package order

import "github.com/go-faster/errors"

// Status is the order-level status. Line items carry their own ItemStatus;
// the label sets overlap but the two types are deliberately distinct so a
// line-item status can never be assigned to an order (and vice versa).
type Status string

const (
	StatusPlaced          Status = "OP"
	StatusReadyForPickup  Status = "RFP"
	StatusPickedUp        Status = "PU"
	StatusOutForDelivery  Status = "OFD"
	StatusReturned        Status = "RET"
	StatusRescheduled     Status = "RES"
	StatusRefunded        Status = "RFD"
	StatusCancelled       Status = "CA"
	StatusDelivered       Status = "DEL"
	StatusDeclined        Status = "DEC"
	StatusTransitBySeller Status = "TBS"
	StatusTransitByBFC    Status = "TBFC"
	StatusReadyForBFC     Status = "RBFC"
)

// ItemStatus is the line-item status, an independent state machine over the
// same label set as Status.
type ItemStatus string

const (
	ItemPlaced          ItemStatus = "OP"
	ItemReadyForPickup  ItemStatus = "RFP"
	ItemPickedUp        ItemStatus = "PU"
	ItemOutForDelivery  ItemStatus = "OFD"
	ItemReturned        ItemStatus = "RET"
	ItemRescheduled     ItemStatus = "RES"
	ItemRefunded        ItemStatus = "RFD"
	ItemCancelled       ItemStatus = "CA"
	ItemDelivered       ItemStatus = "DEL"
	ItemDeclined        ItemStatus = "DEC"
	ItemTransitBySeller ItemStatus = "TBS"
	ItemTransitByBFC    ItemStatus = "TBFC"
	ItemReadyForBFC     ItemStatus = "RBFC"
)

var statusLabels = map[string]string{
	"OP":   "Order Placed",
	"RFP":  "Ready For Pickup",
	"PU":   "Picked Up",
	"OFD":  "Out For Delivery",
	"RET":  "Returned",
	"RES":  "Rescheduled",
	"RFD":  "Refunded",
	"CA":   "Cancelled",
	"DEL":  "Delivered",
	"DEC":  "Declined",
	"TBS":  "Transit By Seller",
	"TBFC": "Transit By BFC",
	"RBFC": "Ready For BFC",
}

// ErrUnknownStatus is returned when parsing an unrecognised status code.
var ErrUnknownStatus = errors.New("unknown status code")

// ParseStatus converts a stored status code into a Status.
func ParseStatus(code string) (Status, error) {
	if _, ok := statusLabels[code]; !ok {
		return "", errors.Wrapf(ErrUnknownStatus, "order status %q", code)
	}
	return Status(code), nil
}

// ParseItemStatus converts a stored status code into an ItemStatus.
func ParseItemStatus(code string) (ItemStatus, error) {
	if _, ok := statusLabels[code]; !ok {
		return "", errors.Wrapf(ErrUnknownStatus, "item status %q", code)
	}
	return ItemStatus(code), nil
}

// Label returns the human-readable form of the status.
func (s Status) Label() string { return statusLabels[string(s)] }

// Label returns the human-readable form of the status.
func (s ItemStatus) Label() string { return statusLabels[string(s)] }

// Terminal reports whether the status ends the order's lifecycle.
// Returned and Rescheduled can loop back to operational states.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusDelivered, StatusRefunded, StatusDeclined:
		return true
	}
	return false
}

// Terminal reports whether the status ends the line item's lifecycle.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemCancelled, ItemDelivered, ItemRefunded, ItemDeclined:
		return true
	}
	return false
}

// ItemStatusFor maps an order-level status onto the line-item status used
// when a bulk order transition cascades to its items.
func ItemStatusFor(s Status) ItemStatus { return ItemStatus(s) }
