package sink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
)

// LocalSink writes each table to <dir>/<table>.csv.
type LocalSink struct {
	log    *slog.Logger
	dir    string
	mode   WriteMode
	layout string
}

func NewLocalSink(log *slog.Logger, dir string, mode WriteMode, timestampLayout string) (*LocalSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}
	return &LocalSink{log: log, dir: dir, mode: mode, layout: timestampLayout}, nil
}

func (s *LocalSink) Kind() string { return "local" }

// Write replaces the file atomically in overwrite mode. In append mode rows
// are added to the end and the header is written only for a new file.
func (s *LocalSink) Write(ctx context.Context, table string, ds *dataset.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(s.dir, table+".csv")

	if s.mode == WriteAppend {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if err := EncodeCSV(f, ds, st.Size() == 0, s.layout); err != nil {
			f.Close()
			return fmt.Errorf("failed to append %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", path, err)
		}
		s.log.Debug("appended aggregate table", "path", path, "rows", ds.NumRows())
		return nil
	}

	var buf bytes.Buffer
	if err := EncodeCSV(&buf, ds, true, s.layout); err != nil {
		return fmt.Errorf("failed to encode %s: %w", table, err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+table+"-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	s.log.Debug("wrote aggregate table", "path", path, "rows", ds.NumRows())
	return nil
}

func (s *LocalSink) Close() error { return nil }
