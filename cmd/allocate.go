package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/housing-sim/synthpop-cli/internal/config"
	"github.com/housing-sim/synthpop-cli/internal/model"
	"github.com/housing-sim/synthpop-cli/internal/pipeline"
	"github.com/housing-sim/synthpop-cli/internal/sink"
	"github.com/housing-sim/synthpop-cli/internal/source"
	"github.com/housing-sim/synthpop-cli/internal/store"
)

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Allocate census counts to addresses and write the result",
	Long:  "Runs the full pipeline: attributes GNAF addresses to areas (or reuses the cache), distributes every configured census table's counts over the per-region address pools, merges the tables, and streams the synthetic population to the output sink.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openCache(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runID, err := st.StartRun(ctx, "allocate")
		if err != nil {
			return err
		}

		result, err := runAllocation(ctx, st)
		if err != nil {
			_ = st.FinishRun(ctx, runID, store.RunFailed, err.Error(), rowsOf(result))
			return err
		}
		if len(result.Failures) > 0 {
			detail := failureDetail(result.Failures)
			_ = st.FinishRun(ctx, runID, store.RunFailed, detail, result.Rows)
			return eris.Wrapf(model.ErrAllocation, "%d of %d census tables failed: %s",
				len(result.Failures), result.Tables+len(result.Failures), detail)
		}

		if err := st.FinishRun(ctx, runID, store.RunCompleted, "", result.Rows); err != nil {
			return err
		}
		zap.L().Info("allocation run complete",
			zap.String("run_id", runID),
			zap.Int64("rows", result.Rows),
			zap.Int("tables", result.Tables),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(allocateCmd)
}

func runAllocation(ctx context.Context, st *store.Store) (*pipeline.Result, error) {
	tableConfigs, err := config.LoadTables(cfg.Simulation.TablesFile)
	if err != nil {
		return nil, err
	}

	attributed, _, err := attributedAddresses(ctx, st, false)
	if err != nil {
		return nil, err
	}

	// Census tables are independent files; a table that fails to load is
	// skipped here and reported, matching per-table allocation failures.
	var tables []*model.CensusTable
	var loadFailures []pipeline.TableFailure
	for _, tc := range tableConfigs {
		table, err := source.LoadCensusTable(ctx, cfg.Data.CensusDir, tc, source.CensusOptions{
			Pattern:      cfg.Data.CensusPattern,
			RegionColumn: cfg.Data.RegionColumn,
			TotalPrefix:  cfg.Data.TotalPrefix,
			RegionFilter: cfg.Data.RegionCodeFilter,
		})
		if err != nil {
			zap.L().Error("census table failed to load", zap.String("table", tc.Name), zap.Error(err))
			loadFailures = append(loadFailures, pipeline.TableFailure{Table: tc.Name, Err: err})
			continue
		}
		tables = append(tables, table)
	}
	if len(tables) == 0 {
		return nil, eris.Wrap(model.ErrDataLoad, "no census tables could be loaded")
	}

	out, err := buildSink(ctx)
	if err != nil {
		return nil, err
	}

	result, err := pipeline.Run(ctx, attributed, tables, cfg.Simulation.Seed, out, cfg.Output.ChunkSize)
	if result != nil {
		result.Failures = append(loadFailures, result.Failures...)
	}
	return result, err
}

// buildSink selects the output sink: Postgres when a URL is configured,
// a local CSV file otherwise.
func buildSink(ctx context.Context) (sink.Sink, error) {
	if cfg.Output.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Output.PostgresURL)
		if err != nil {
			return nil, eris.Wrap(err, "connect postgres sink")
		}
		return sink.NewPostgres(pool, cfg.Output.Table), nil
	}
	return sink.NewCSV(cfg.Output.Path), nil
}

func rowsOf(r *pipeline.Result) int64 {
	if r == nil {
		return 0
	}
	return r.Rows
}

func failureDetail(failures []pipeline.TableFailure) string {
	parts := make([]string, len(failures))
	for i, f := range failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Table, f.Err)
	}
	return strings.Join(parts, "; ")
}
