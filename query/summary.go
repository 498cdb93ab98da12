package query

import "sort"

// Summary holds the headline figures shown above the report tables.
type Summary struct {
	TotalOrders  int     `json:"total_orders"`
	TotalRevenue float64 `json:"total_revenue"`
	AvgRecency   float64 `json:"avg_recency"`
	AvgFrequency float64 `json:"avg_frequency"`
	AvgMonetary  float64 `json:"avg_monetary"`
}

// Summarize totals the daily series and averages the RFM table. An empty
// report yields a zero Summary.
func Summarize(r *Report) Summary {
	var s Summary
	for _, d := range r.Daily {
		s.TotalOrders += d.OrderCount
		s.TotalRevenue += d.Revenue
	}
	if n := len(r.Customers); n > 0 {
		for _, c := range r.Customers {
			s.AvgRecency += c.Recency
			s.AvgFrequency += float64(c.Frequency)
			s.AvgMonetary += c.Monetary
		}
		s.AvgRecency /= float64(n)
		s.AvgFrequency /= float64(n)
		s.AvgMonetary /= float64(n)
	}
	return s
}

func head[T any](rows []T, n int) []T {
	if n < 0 || n > len(rows) {
		n = len(rows)
	}
	return rows[:n]
}

// Customer looks up one customer's RFM row.
func (r *Report) Customer(id string) (CustomerRFM, bool) {
	i := sort.Search(len(r.Customers), func(i int) bool {
		return r.Customers[i].CustomerID >= id
	})
	if i < len(r.Customers) && r.Customers[i].CustomerID == id {
		return r.Customers[i], true
	}
	return CustomerRFM{}, false
}

// BestCategories returns the n categories with the largest volume.
func (r *Report) BestCategories(n int) []CategoryVolume {
	return append([]CategoryVolume(nil), head(r.Categories, n)...)
}

// WorstCategories returns the n categories with the smallest volume,
// smallest first.
func (r *Report) WorstCategories(n int) []CategoryVolume {
	rows := append([]CategoryVolume(nil), r.Categories...)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ItemVolume < rows[j].ItemVolume
	})
	return head(rows, n)
}

func (r *Report) customersBy(n int, less func(a, b CustomerRFM) bool) []CustomerRFM {
	rows := append([]CustomerRFM(nil), r.Customers...)
	sort.SliceStable(rows, func(i, j int) bool {
		return less(rows[i], rows[j])
	})
	return head(rows, n)
}

// MostRecentCustomers returns the n customers with the lowest recency.
func (r *Report) MostRecentCustomers(n int) []CustomerRFM {
	return r.customersBy(n, func(a, b CustomerRFM) bool { return a.Recency < b.Recency })
}

// TopCustomersByFrequency returns the n customers with the most order lines.
func (r *Report) TopCustomersByFrequency(n int) []CustomerRFM {
	return r.customersBy(n, func(a, b CustomerRFM) bool { return a.Frequency > b.Frequency })
}

// TopCustomersByMonetary returns the n customers with the highest spend.
func (r *Report) TopCustomersByMonetary(n int) []CustomerRFM {
	return r.customersBy(n, func(a, b CustomerRFM) bool { return a.Monetary > b.Monetary })
}
