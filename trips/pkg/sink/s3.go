package sink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
	"github.com/malbeclabs/taxilake/trips/pkg/objectstore"
)

const csvContentType = "text/csv"

// S3Sink writes each table below an s3:// prefix. Overwrite mode writes
// <prefix>/<table>.csv; append mode adds <prefix>/<table>/part-<uuid>.csv
// objects, since S3 objects cannot be extended.
type S3Sink struct {
	log    *slog.Logger
	store  *objectstore.Store
	prefix objectstore.Location
	mode   WriteMode
	layout string
}

func NewS3Sink(log *slog.Logger, store *objectstore.Store, prefix objectstore.Location, mode WriteMode, timestampLayout string) *S3Sink {
	return &S3Sink{log: log, store: store, prefix: prefix, mode: mode, layout: timestampLayout}
}

func (s *S3Sink) Kind() string { return "s3" }

func (s *S3Sink) Write(ctx context.Context, table string, ds *dataset.Dataset) error {
	loc := s.prefix.Join(table + ".csv")
	if s.mode == WriteAppend {
		loc = s.prefix.Join(table).Join("part-" + uuid.NewString() + ".csv")
	}

	var buf bytes.Buffer
	if err := EncodeCSV(&buf, ds, true, s.layout); err != nil {
		return fmt.Errorf("failed to encode %s: %w", table, err)
	}
	if err := s.store.Put(ctx, loc, bytes.NewReader(buf.Bytes()), csvContentType); err != nil {
		return err
	}
	s.log.Debug("wrote aggregate object", "location", loc.String(), "rows", ds.NumRows())
	return nil
}

func (s *S3Sink) Close() error { return nil }
