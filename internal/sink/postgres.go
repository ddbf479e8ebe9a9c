package sink

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/housing-sim/synthpop-cli/internal/db"
	"github.com/housing-sim/synthpop-cli/internal/model"
)

// PostgresSink streams chunks into a Postgres table via the COPY protocol.
// Open truncates the target so re-runs replace, not accumulate.
type PostgresSink struct {
	pool    db.Pool
	table   string
	columns []string
	written int64
}

// NewPostgres creates a Postgres sink targeting table.
func NewPostgres(pool db.Pool, table string) *PostgresSink {
	return &PostgresSink{pool: pool, table: table}
}

func (s *PostgresSink) Open(ctx context.Context, header []string) error {
	if len(header) == 0 {
		return eris.Wrap(model.ErrConfiguration, "postgres sink: empty header")
	}
	s.columns = header

	sql := "TRUNCATE " + pgx.Identifier{s.table}.Sanitize()
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return eris.Wrapf(model.ErrSink, "postgres sink: truncate %s: %v", s.table, err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, rows [][]any) error {
	if s.columns == nil {
		return eris.Wrap(model.ErrSink, "postgres sink: write before open")
	}

	n, err := db.CopyFrom(ctx, s.pool, s.table, s.columns, rows)
	if err != nil {
		return eris.Wrapf(model.ErrSink, "postgres sink: copy into %s: %v", s.table, err)
	}
	s.written += n
	return nil
}

func (s *PostgresSink) Close() error {
	zap.L().Debug("postgres sink: closed",
		zap.String("table", s.table),
		zap.Int64("rows", s.written),
	)
	return nil
}
