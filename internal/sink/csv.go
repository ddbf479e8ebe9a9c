package sink

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/housing-sim/synthpop-cli/internal/model"
)

// CSVSink writes chunks to a local CSV file. The first chunk overwrites
// the target; subsequent chunks append.
type CSVSink struct {
	path    string
	file    *os.File
	writer  *csv.Writer
	columns int
}

// NewCSV creates a CSV sink targeting path.
func NewCSV(path string) *CSVSink {
	return &CSVSink{path: path}
}

func (s *CSVSink) Open(_ context.Context, header []string) error {
	if len(header) == 0 {
		return eris.Wrap(model.ErrConfiguration, "csv sink: empty header")
	}

	f, err := os.Create(s.path)
	if err != nil {
		return eris.Wrapf(model.ErrSink, "csv sink: create %s: %v", s.path, err)
	}
	s.file = f
	s.writer = csv.NewWriter(f)
	s.columns = len(header)

	if err := s.writer.Write(header); err != nil {
		return eris.Wrapf(model.ErrSink, "csv sink: write header to %s: %v", s.path, err)
	}
	return nil
}

func (s *CSVSink) Write(ctx context.Context, rows [][]any) error {
	if s.writer == nil {
		return eris.Wrap(model.ErrSink, "csv sink: write before open")
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "csv sink: context cancelled")
		}
		if len(row) != s.columns {
			return eris.Wrapf(model.ErrSink, "csv sink: row has %d columns, header has %d", len(row), s.columns)
		}
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = formatValue(v)
		}
		if err := s.writer.Write(record); err != nil {
			return eris.Wrapf(model.ErrSink, "csv sink: write row to %s: %v", s.path, err)
		}
	}

	// Flush per chunk so peak memory stays bounded by the chunk size.
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return eris.Wrapf(model.ErrSink, "csv sink: flush %s: %v", s.path, err)
	}
	return nil
}

func (s *CSVSink) Close() error {
	if s.file == nil {
		return nil
	}
	s.writer.Flush()
	flushErr := s.writer.Error()
	closeErr := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return eris.Wrapf(model.ErrSink, "csv sink: flush %s: %v", s.path, flushErr)
	}
	if closeErr != nil {
		return eris.Wrapf(model.ErrSink, "csv sink: close %s: %v", s.path, closeErr)
	}
	zap.L().Debug("csv sink: closed", zap.String("path", s.path))
	return nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}
