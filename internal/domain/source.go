package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// SourceKind discriminates the order table a commission source points into.
type SourceKind string

const (
	SourceNone           SourceKind = "none"
	SourceEcommerceOrder SourceKind = "ecommerce_order"
	SourceServiceOrder   SourceKind = "service_order"
)

// OrderKind is the subset of SourceKind that names a real order table.
type OrderKind = SourceKind

// CommissionSource is a tagged reference: an e-commerce order, a service order, or nothing.
// Two sources are equal only when both kind and id match, so ids from different
// order tables can never collide.
type CommissionSource struct {
	Kind    SourceKind
	OrderID uuid.UUID
}

func NoSource() CommissionSource {
	return CommissionSource{Kind: SourceNone}
}

func EcommerceOrderRef(id uuid.UUID) CommissionSource {
	return CommissionSource{Kind: SourceEcommerceOrder, OrderID: id}
}

func ServiceOrderRef(id uuid.UUID) CommissionSource {
	return CommissionSource{Kind: SourceServiceOrder, OrderID: id}
}

// OrderRef identifies an order in the catalog.
type OrderRef struct {
	Kind OrderKind
	ID   uuid.UUID
}

func (r OrderRef) Source() CommissionSource {
	return CommissionSource{Kind: r.Kind, OrderID: r.ID}
}

func (r OrderRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// ParseOrderKind maps the URL/API form of an order kind.
func ParseOrderKind(s string) (OrderKind, error) {
	switch s {
	case "ecommerce", string(SourceEcommerceOrder):
		return SourceEcommerceOrder, nil
	case "service", string(SourceServiceOrder):
		return SourceServiceOrder, nil
	default:
		return "", NewValidationError("order_kind", fmt.Sprintf("unknown order kind %q", s))
	}
}

func (s CommissionSource) IsNone() bool {
	return s.Kind == SourceNone || s.Kind == ""
}

// OrderRef returns the referenced order, or false for SourceNone.
func (s CommissionSource) OrderRef() (OrderRef, bool) {
	if s.IsNone() {
		return OrderRef{}, false
	}
	return OrderRef{Kind: s.Kind, ID: s.OrderID}, true
}

// Validate rejects half-populated variants.
func (s CommissionSource) Validate() error {
	switch s.Kind {
	case SourceNone, "":
		if s.OrderID != uuid.Nil {
			return fmt.Errorf("commission source none must not carry an order id")
		}
		return nil
	case SourceEcommerceOrder, SourceServiceOrder:
		if s.OrderID == uuid.Nil {
			return fmt.Errorf("commission source %s requires an order id", s.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown commission source kind %q", s.Kind)
	}
}

func (s CommissionSource) String() string {
	if s.IsNone() {
		return string(SourceNone)
	}
	return fmt.Sprintf("%s:%s", s.Kind, s.OrderID)
}
