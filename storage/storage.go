// Package storage loads order-line datasets into a db.DB and saves the
// held snapshot back to disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/TFMV/ordermetrics/db"
	"github.com/TFMV/ordermetrics/query"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
)

// ErrUnsupportedURI is returned for dataset locations that cannot be
// resolved.
var ErrUnsupportedURI = errors.New("unsupported dataset uri")

// DefaultChunkSize is the number of CSV rows per Arrow record.
const DefaultChunkSize = 8192

// columnTypes pins the Arrow type of every consumed CSV column; all other
// columns of the file are skipped.
var columnTypes = map[string]arrow.DataType{
	query.ColOrderID:   arrow.BinaryTypes.String,
	query.ColCustomer:  arrow.BinaryTypes.String,
	query.ColTimestamp: db.TimestampType,
	query.ColPrice:     arrow.PrimitiveTypes.Float64,
	query.ColItemID:    arrow.PrimitiveTypes.Int64,
	query.ColCategory:  arrow.BinaryTypes.String,
}

// ReadCSV decodes a headed CSV stream of order lines into Arrow records.
// Empty fields are read as nulls. The caller must Release every record.
func ReadCSV(r io.Reader, mem memory.Allocator, chunk int) ([]arrow.Record, error) {
	if mem == nil {
		mem = db.Pool
	}
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	reader := csv.NewInferringReader(r,
		csv.WithHeader(true),
		csv.WithChunk(chunk),
		csv.WithAllocator(mem),
		csv.WithNullReader(true, ""),
		csv.WithIncludeColumns(query.RequiredColumns),
		csv.WithColumnTypes(columnTypes),
	)
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		rec := reader.Record()
		// Retain the record so it's safe to use after Next() call
		rec.Retain()
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil {
		release(records)
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return records, nil
}

func release(records []arrow.Record) {
	for _, rec := range records {
		rec.Release()
	}
}

// Option configures a Storage.
type Option func(*Storage)

// WithObjectOpener sets the opener used for gs:// locations.
func WithObjectOpener(o ObjectOpener) Option {
	return func(s *Storage) { s.objects = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Storage) { s.logger = l }
}

// WithChunkSize sets the number of CSV rows per Arrow record.
func WithChunkSize(n int) Option {
	return func(s *Storage) { s.chunk = n }
}

// Storage wraps a DB instance to provide Load/Save functionality.
type Storage struct {
	db      *db.DB
	objects ObjectOpener
	logger  *zap.Logger
	chunk   int
	mem     memory.Allocator
}

// NewStorage creates a new Storage instance for the given DB.
func NewStorage(database *db.DB, opts ...Option) *Storage {
	s := &Storage{
		db:     database,
		logger: zap.NewNop(),
		chunk:  DefaultChunkSize,
		mem:    memory.NewGoAllocator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load ingests the dataset at uri: gs://bucket/object, an Arrow IPC file
// (.arrow, .ipc) or a CSV file. Remote objects are read as CSV unless
// their name carries an Arrow extension.
func (s *Storage) Load(ctx context.Context, uri string) error {
	if strings.HasPrefix(uri, gcsScheme) {
		return s.loadObject(ctx, uri)
	}
	if isArrowFile(uri) {
		return s.LoadFromDisk(uri)
	}
	f, err := os.Open(uri)
	if err != nil {
		return fmt.Errorf("failed to open file %q: %w", uri, err)
	}
	defer func() {
		_ = f.Close()
	}()
	return s.LoadCSV(f)
}

func isArrowFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".arrow", ".ipc", ".feather":
		return true
	}
	return false
}

// LoadCSV reads a CSV stream and ingests every record into the DB.
func (s *Storage) LoadCSV(r io.Reader) error {
	records, err := ReadCSV(r, s.mem, s.chunk)
	if err != nil {
		return err
	}
	defer release(records)

	if err := s.db.IngestAll(records); err != nil {
		return err
	}
	s.logger.Info("loaded csv", zap.Int("records", len(records)), zap.Int("lines", s.db.Len()))
	return nil
}

func (s *Storage) loadObject(ctx context.Context, uri string) error {
	if s.objects == nil {
		return fmt.Errorf("%w: no object store configured for %q", ErrUnsupportedURI, uri)
	}
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return err
	}
	rc, err := s.objects.Open(ctx, bucket, object)
	if err != nil {
		return fmt.Errorf("open %s: %w", uri, err)
	}
	defer func() {
		_ = rc.Close()
	}()

	if isArrowFile(object) {
		data, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("read %s: %w", uri, err)
		}
		return s.loadIPC(bytesReaderAt(data))
	}
	return s.LoadCSV(rc)
}

// SaveToDisk writes the DB's order lines to a file on disk in the Arrow
// IPC file format, as a single record of db.Schema.
func (s *Storage) SaveToDisk(path string) error {
	// 1. Open file for writing
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %q: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	// 2. Create an Arrow IPC FileWriter with the canonical schema.
	writer, err := ipc.NewFileWriter(
		file,
		ipc.WithSchema(s.db.GetSchema()),
		ipc.WithAllocator(s.mem),
	)
	if err != nil {
		return fmt.Errorf("failed to create Arrow file writer: %w", err)
	}

	// 3. Write the snapshot.
	record := s.db.Export(s.mem)
	defer record.Release()
	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write record to Arrow file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish Arrow file: %w", err)
	}
	s.logger.Info("saved snapshot", zap.String("path", path), zap.Int64("lines", record.NumRows()))
	return nil
}

// LoadFromDisk reads Arrow IPC file contents from disk and ingests them
// into the DB.
func (s *Storage) LoadFromDisk(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file %q: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()
	return s.loadIPC(file)
}

func (s *Storage) loadIPC(r ipc.ReadAtSeeker) error {
	reader, err := ipc.NewFileReader(r, ipc.WithAllocator(s.mem))
	if err != nil {
		return fmt.Errorf("failed to create Arrow file reader: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	n := reader.NumRecords()
	for i := 0; i < n; i++ {
		rec, err := reader.RecordAt(i)
		if err != nil {
			return fmt.Errorf("failed to read record %d from file: %w", i, err)
		}
		err = s.db.Ingest(rec)
		rec.Release()
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	s.logger.Info("loaded arrow file", zap.Int("records", n), zap.Int("lines", s.db.Len()))
	return nil
}
