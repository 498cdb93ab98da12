package httpapi

import (
	"time"

	"github.com/TFMV/ordermetrics/query"
)

// DailyRow is one day of the daily orders series.
type DailyRow struct {
	Date       string  `json:"order_purchase_timestamp"`
	OrderCount int     `json:"order_count"`
	Revenue    float64 `json:"revenue"`
}

// CategoryRow is one category volume. Category is null for lines without
// a category.
type CategoryRow struct {
	Category   *string `json:"product_category_name_english"`
	ItemVolume int64   `json:"order_item_id"`
}

// CustomerRow is one customer's RFM scores.
type CustomerRow struct {
	CustomerID      string  `json:"customer_id"`
	Frequency       int     `json:"frequency"`
	Monetary        float64 `json:"monetary"`
	Recency         float64 `json:"recency"`
	CustomerIDShort string  `json:"customer_id_short"`
}

// Rankings holds the top-n views of a report.
type Rankings struct {
	BestCategories          []CategoryRow `json:"best_categories"`
	WorstCategories         []CategoryRow `json:"worst_categories"`
	MostRecentCustomers     []CustomerRow `json:"most_recent_customers"`
	TopCustomersByFrequency []CustomerRow `json:"top_customers_by_frequency"`
	TopCustomersByMonetary  []CustomerRow `json:"top_customers_by_monetary"`
}

// ReportView is the JSON form of a report.
type ReportView struct {
	Start      string        `json:"start,omitempty"`
	End        string        `json:"end,omitempty"`
	Summary    query.Summary `json:"summary"`
	Rankings   *Rankings     `json:"rankings,omitempty"`
	Daily      []DailyRow    `json:"daily"`
	Categories []CategoryRow `json:"categories"`
	Customers  []CustomerRow `json:"customers"`
}

// NewReportView converts a report. Rankings are included when top > 0.
func NewReportView(r *query.Report, start, end time.Time, top int) ReportView {
	view := ReportView{
		Start:      formatDay(start),
		End:        formatDay(end),
		Summary:    query.Summarize(r),
		Daily:      make([]DailyRow, 0, len(r.Daily)),
		Categories: categoryRows(r.Categories),
		Customers:  customerRows(r.Customers),
	}
	for _, d := range r.Daily {
		view.Daily = append(view.Daily, DailyRow{
			Date:       d.Date.Format(time.DateOnly),
			OrderCount: d.OrderCount,
			Revenue:    d.Revenue,
		})
	}
	if top > 0 {
		view.Rankings = &Rankings{
			BestCategories:          categoryRows(r.BestCategories(top)),
			WorstCategories:         categoryRows(r.WorstCategories(top)),
			MostRecentCustomers:     customerRows(r.MostRecentCustomers(top)),
			TopCustomersByFrequency: customerRows(r.TopCustomersByFrequency(top)),
			TopCustomersByMonetary:  customerRows(r.TopCustomersByMonetary(top)),
		}
	}
	return view
}

// LineRow is one order line in a customer view.
type LineRow struct {
	OrderID     string  `json:"order_id"`
	PurchasedAt string  `json:"order_purchase_timestamp"`
	TotalPrice  float64 `json:"total_price"`
	ItemID      int64   `json:"order_item_id"`
	Category    *string `json:"product_category_name_english"`
}

// CustomerView is one customer's RFM row with the lines behind it.
type CustomerView struct {
	Customer CustomerRow `json:"customer"`
	Lines    []LineRow   `json:"lines"`
}

// NewCustomerView converts a customer's RFM row and lines.
func NewCustomerView(rfm query.CustomerRFM, lines []query.OrderLine) CustomerView {
	view := CustomerView{
		Customer: customerRows([]query.CustomerRFM{rfm})[0],
		Lines:    make([]LineRow, 0, len(lines)),
	}
	for _, l := range lines {
		view.Lines = append(view.Lines, LineRow{
			OrderID:     l.OrderID,
			PurchasedAt: l.PurchasedAt.Format(time.RFC3339),
			TotalPrice:  l.TotalPrice,
			ItemID:      l.ItemID,
			Category:    l.Category,
		})
	}
	return view
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func categoryRows(in []query.CategoryVolume) []CategoryRow {
	rows := make([]CategoryRow, 0, len(in))
	for _, c := range in {
		rows = append(rows, CategoryRow{Category: c.Category, ItemVolume: c.ItemVolume})
	}
	return rows
}

func customerRows(in []query.CustomerRFM) []CustomerRow {
	rows := make([]CustomerRow, 0, len(in))
	for _, c := range in {
		rows = append(rows, CustomerRow{
			CustomerID:      c.CustomerID,
			Frequency:       c.Frequency,
			Monetary:        c.Monetary,
			Recency:         c.Recency,
			CustomerIDShort: c.CustomerIDShort,
		})
	}
	return rows
}
