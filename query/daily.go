package query

import (
	"time"

	"github.com/RoaringBitmap/roaring"
)

// DailyOrders is one calendar day of the order time series.
type DailyOrders struct {
	Date time.Time
	// OrderCount is the number of distinct orders placed that day.
	OrderCount int
	Revenue    float64
}

type dayBucket struct {
	orders  *roaring.Bitmap
	revenue float64
}

// DailySeries buckets lines by purchase date and returns one row per day
// of the continuous span between the first and last purchase, in ascending
// order. Days without purchases are present with zero count and revenue.
func DailySeries(lines []OrderLine) []DailyOrders {
	if len(lines) == 0 {
		return []DailyOrders{}
	}

	// Order ids are interned so that distinct counting per day is a bitmap
	// cardinality.
	ordinals := make(map[string]uint32)
	buckets := make(map[time.Time]*dayBucket)
	first, last := PurchaseDay(lines[0].PurchasedAt), PurchaseDay(lines[0].PurchasedAt)

	for _, line := range lines {
		day := PurchaseDay(line.PurchasedAt)
		if day.Before(first) {
			first = day
		}
		if day.After(last) {
			last = day
		}

		ord, ok := ordinals[line.OrderID]
		if !ok {
			ord = uint32(len(ordinals))
			ordinals[line.OrderID] = ord
		}

		b, ok := buckets[day]
		if !ok {
			b = &dayBucket{orders: roaring.New()}
			buckets[day] = b
		}
		b.orders.Add(ord)
		b.revenue += line.TotalPrice
	}

	series := make([]DailyOrders, 0, daysBetween(first, last)+1)
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		row := DailyOrders{Date: day}
		if b, ok := buckets[day]; ok {
			row.OrderCount = int(b.orders.GetCardinality())
			row.Revenue = b.revenue
		}
		series = append(series, row)
	}
	return series
}
