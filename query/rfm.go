package query

import (
	"sort"
	"time"
)

// RecencyPeriod is the unit of CustomerRFM.Recency, in days.
const RecencyPeriod = 30.0

// ShortIDMarker prefixes the customer id suffix in CustomerIDShort.
const ShortIDMarker = "..."

const shortIDLen = 5

// CustomerRFM holds the recency, frequency and monetary scores of one
// customer.
type CustomerRFM struct {
	CustomerID string
	// CustomerIDShort is a chart label built from the last characters of
	// CustomerID. It is not unique and must never be used as a key.
	CustomerIDShort string
	// Frequency counts order lines, not distinct orders.
	Frequency int
	Monetary  float64
	// Recency is the number of 30-day periods between the customer's last
	// purchase day and the latest purchase day of the whole input.
	Recency float64
	// LastPurchase is the date of the customer's latest purchase.
	LastPurchase time.Time
}

type customerAcc struct {
	last      time.Time
	frequency int
	monetary  float64
}

// RFMScores derives one CustomerRFM per distinct customer, ordered by
// customer id.
func RFMScores(lines []OrderLine) []CustomerRFM {
	if len(lines) == 0 {
		return []CustomerRFM{}
	}

	customers := make(map[string]*customerAcc)
	for _, line := range lines {
		day := PurchaseDay(line.PurchasedAt)
		acc, ok := customers[line.CustomerID]
		if !ok {
			acc = &customerAcc{last: day}
			customers[line.CustomerID] = acc
		}
		if day.After(acc.last) {
			acc.last = day
		}
		acc.frequency++
		acc.monetary += line.TotalPrice
	}

	// The reference is the latest purchase day over every line, computed
	// once, never per customer.
	reference := PurchaseDay(lines[0].PurchasedAt)
	for _, acc := range customers {
		if acc.last.After(reference) {
			reference = acc.last
		}
	}

	table := make([]CustomerRFM, 0, len(customers))
	for id, acc := range customers {
		table = append(table, CustomerRFM{
			CustomerID:      id,
			CustomerIDShort: ShortCustomerID(id),
			Frequency:       acc.frequency,
			Monetary:        acc.monetary,
			Recency:         float64(daysBetween(acc.last, reference)) / RecencyPeriod,
			LastPurchase:    acc.last,
		})
	}
	sort.Slice(table, func(i, j int) bool {
		return table[i].CustomerID < table[j].CustomerID
	})
	return table
}

// ShortCustomerID returns the display token for a customer id: the marker
// followed by the id's last five characters.
func ShortCustomerID(id string) string {
	r := []rune(id)
	if len(r) > shortIDLen {
		r = r[len(r)-shortIDLen:]
	}
	return ShortIDMarker + string(r)
}
