// Package query implements the order analytics engine: daily order series,
// category volumes and customer RFM scores derived from order-line records.
package query

import (
	"time"
)

// Column names of the order-line input table.
const (
	ColOrderID   = "order_id"
	ColCustomer  = "customer_id"
	ColTimestamp = "order_purchase_timestamp"
	ColPrice     = "total_price"
	ColItemID    = "order_item_id"
	ColCategory  = "product_category_name_english"
)

// RequiredColumns lists every column the engine reads, in schema order.
var RequiredColumns = []string{
	ColOrderID,
	ColCustomer,
	ColTimestamp,
	ColPrice,
	ColItemID,
	ColCategory,
}

// OrderLine is one purchased item within an order.
type OrderLine struct {
	OrderID    string
	CustomerID string
	// PurchasedAt is bucketed by its own calendar date; no zone conversion
	// is applied.
	PurchasedAt time.Time
	TotalPrice  float64
	// ItemID is summed, not counted, to get category volume.
	ItemID int64
	// Category is nil when the line has no category.
	Category *string
}

// Validate reports whether the line carries every required field.
func (l OrderLine) Validate() error {
	switch {
	case l.OrderID == "":
		return &ShapeError{Column: ColOrderID, Reason: "empty value"}
	case l.CustomerID == "":
		return &ShapeError{Column: ColCustomer, Reason: "empty value"}
	case l.PurchasedAt.IsZero():
		return &ShapeError{Column: ColTimestamp, Reason: "zero timestamp"}
	}
	return nil
}

// Category returns a pointer to name, for building lines with a category.
func Category(name string) *string {
	return &name
}

// PurchaseDay truncates t to midnight of its own calendar date, expressed
// in UTC so that day arithmetic is exact.
func PurchaseDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const secondsPerDay = 24 * 60 * 60

// daysBetween returns the whole number of days from a to b, both of which
// must come from PurchaseDay. Unix seconds keep spans beyond the range of
// time.Duration exact.
func daysBetween(a, b time.Time) int {
	return int((b.Unix() - a.Unix()) / secondsPerDay)
}
