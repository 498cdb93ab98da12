package db

import (
	"time"

	"github.com/TFMV/ordermetrics/query"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Pool is the Go memory allocator used by Arrow.
var Pool = memory.NewGoAllocator()

// TimestampType is the purchase timestamp type: second resolution, no zone.
var TimestampType = &arrow.TimestampType{Unit: arrow.Second}

// Schema defines the canonical order-line table. Ingest accepts any schema
// carrying these columns by name; this one is what the loaders produce.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: query.ColOrderID, Type: arrow.BinaryTypes.String},
	{Name: query.ColCustomer, Type: arrow.BinaryTypes.String},
	{Name: query.ColTimestamp, Type: TimestampType},
	{Name: query.ColPrice, Type: arrow.PrimitiveTypes.Float64},
	{Name: query.ColItemID, Type: arrow.PrimitiveTypes.Int64},
	{Name: query.ColCategory, Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// NewRecord encodes lines as one record of Schema. The caller must
// Release it.
func NewRecord(mem memory.Allocator, lines []query.OrderLine) arrow.Record {
	if mem == nil {
		mem = Pool
	}
	builder := array.NewRecordBuilder(mem, Schema)
	defer builder.Release()

	orderIDs := builder.Field(0).(*array.StringBuilder)
	customers := builder.Field(1).(*array.StringBuilder)
	timestamps := builder.Field(2).(*array.TimestampBuilder)
	prices := builder.Field(3).(*array.Float64Builder)
	items := builder.Field(4).(*array.Int64Builder)
	categories := builder.Field(5).(*array.StringBuilder)

	for _, line := range lines {
		orderIDs.Append(line.OrderID)
		customers.Append(line.CustomerID)
		timestamps.Append(wallClock(line.PurchasedAt))
		prices.Append(line.TotalPrice)
		items.Append(line.ItemID)
		if line.Category == nil {
			categories.AppendNull()
		} else {
			categories.Append(*line.Category)
		}
	}
	return builder.NewRecord()
}

// wallClock encodes t's local wall-clock time as a zoneless timestamp, so
// the purchase date survives a round trip unchanged.
func wallClock(t time.Time) arrow.Timestamp {
	_, offset := t.Zone()
	return arrow.Timestamp(t.Unix() + int64(offset))
}
