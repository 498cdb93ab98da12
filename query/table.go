package query

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Output table names.
const (
	TableDaily      = "daily"
	TableCategories = "categories"
	TableRFM        = "rfm"
)

// TableNames lists the output tables in display order.
var TableNames = []string{TableDaily, TableCategories, TableRFM}

var (
	// DailySchema is the Arrow shape of the daily orders series.
	DailySchema = arrow.NewSchema([]arrow.Field{
		{Name: ColTimestamp, Type: arrow.FixedWidthTypes.Date32},
		{Name: "order_count", Type: arrow.PrimitiveTypes.Int64},
		{Name: "revenue", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	// CategorySchema is the Arrow shape of the category volume table.
	CategorySchema = arrow.NewSchema([]arrow.Field{
		{Name: ColCategory, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: ColItemID, Type: arrow.PrimitiveTypes.Int64},
	}, nil)

	// RFMSchema is the Arrow shape of the customer RFM table.
	RFMSchema = arrow.NewSchema([]arrow.Field{
		{Name: ColCustomer, Type: arrow.BinaryTypes.String},
		{Name: "frequency", Type: arrow.PrimitiveTypes.Int64},
		{Name: "monetary", Type: arrow.PrimitiveTypes.Float64},
		{Name: "recency", Type: arrow.PrimitiveTypes.Float64},
		{Name: "customer_id_short", Type: arrow.BinaryTypes.String},
	}, nil)
)

// TableSchema returns the Arrow schema of the named output table.
func TableSchema(name string) (*arrow.Schema, error) {
	switch name {
	case TableDaily:
		return DailySchema, nil
	case TableCategories:
		return CategorySchema, nil
	case TableRFM:
		return RFMSchema, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
}

// Table encodes the named output table as a single Arrow record. The
// caller owns the record and must Release it.
func (r *Report) Table(name string, mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	schema, err := TableSchema(name)
	if err != nil {
		return nil, err
	}
	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()

	switch name {
	case TableDaily:
		dates := builder.Field(0).(*array.Date32Builder)
		counts := builder.Field(1).(*array.Int64Builder)
		revenue := builder.Field(2).(*array.Float64Builder)
		for _, d := range r.Daily {
			dates.Append(arrow.Date32FromTime(d.Date))
			counts.Append(int64(d.OrderCount))
			revenue.Append(d.Revenue)
		}
	case TableCategories:
		names := builder.Field(0).(*array.StringBuilder)
		volumes := builder.Field(1).(*array.Int64Builder)
		for _, c := range r.Categories {
			if c.Category == nil {
				names.AppendNull()
			} else {
				names.Append(*c.Category)
			}
			volumes.Append(c.ItemVolume)
		}
	case TableRFM:
		ids := builder.Field(0).(*array.StringBuilder)
		frequency := builder.Field(1).(*array.Int64Builder)
		monetary := builder.Field(2).(*array.Float64Builder)
		recency := builder.Field(3).(*array.Float64Builder)
		short := builder.Field(4).(*array.StringBuilder)
		for _, c := range r.Customers {
			ids.Append(c.CustomerID)
			frequency.Append(int64(c.Frequency))
			monetary.Append(c.Monetary)
			recency.Append(c.Recency)
			short.Append(c.CustomerIDShort)
		}
	}
	return builder.NewRecord(), nil
}
