package query

import (
	"time"

	"pgregory.net/rapid"
)

var epoch = time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC)

// at returns a purchase time day days after epoch, at the given hour.
func at(day, hour int) time.Time {
	return epoch.AddDate(0, 0, day).Add(time.Duration(hour) * time.Hour)
}

func line(order, customer string, purchasedAt time.Time, price float64, items int64, category *string) OrderLine {
	return OrderLine{
		OrderID:     order,
		CustomerID:  customer,
		PurchasedAt: purchasedAt,
		TotalPrice:  price,
		ItemID:      items,
		Category:    category,
	}
}

// orderLinesGen draws snapshots in which every order has one timestamp and
// one customer, as in real order data.
func orderLinesGen() *rapid.Generator[[]OrderLine] {
	return rapid.Custom(func(t *rapid.T) []OrderLine {
		categories := []*string{nil, Category("toys"), Category("books"), Category("garden")}
		orders := rapid.IntRange(0, 25).Draw(t, "orders")
		var lines []OrderLine
		for o := 0; o < orders; o++ {
			id := "order-" + string(rune('a'+o%26)) + string(rune('a'+o/26))
			customer := "cust-" + string(rune('a'+rapid.IntRange(0, 7).Draw(t, "customer")))
			ts := at(rapid.IntRange(0, 90).Draw(t, "day"), rapid.IntRange(0, 23).Draw(t, "hour"))
			items := rapid.IntRange(1, 4).Draw(t, "items")
			for i := 1; i <= items; i++ {
				lines = append(lines, line(id, customer, ts,
					float64(rapid.IntRange(0, 50000).Draw(t, "cents"))/100,
					int64(i),
					rapid.SampledFrom(categories).Draw(t, "category")))
			}
		}
		return lines
	})
}
