// Package pipeline orchestrates the synthesis run: it groups attributed
// addresses into per-region pools, allocates every census table, merges
// the per-table outputs, and streams the final rows to a sink in bounded
// chunks. No new algorithms live here.
package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/housing-sim/synthpop-cli/internal/allocate"
	"github.com/housing-sim/synthpop-cli/internal/model"
	"github.com/housing-sim/synthpop-cli/internal/sink"
)

// TableFailure records one census table the run could not allocate.
type TableFailure struct {
	Table string
	Err   error
}

// Result summarizes a pipeline run.
type Result struct {
	Rows     int64 // rows streamed to the sink
	Tables   int   // tables allocated successfully
	Failures []TableFailure
}

// Run allocates every census table over the attributed address pool and
// streams the merged output to out. A table that fails to allocate is
// reported in the result and the remaining tables continue; the run
// errors only when configuration is invalid, no table succeeds, or the
// sink fails.
func Run(ctx context.Context, attributed []model.AttributedAddress, tables []*model.CensusTable, seed int64, out sink.Sink, chunkSize int) (*Result, error) {
	if chunkSize <= 0 {
		return nil, eris.Wrapf(model.ErrConfiguration, "invalid output chunk size %d", chunkSize)
	}
	if len(tables) == 0 {
		return nil, eris.Wrap(model.ErrConfiguration, "no census tables to allocate")
	}

	log := zap.L().With(zap.String("component", "pipeline"))

	// Addresses without an area code cannot join any census region.
	pool := make(map[string][]model.AttributedAddress)
	for _, a := range attributed {
		if a.AreaCode == "" {
			continue
		}
		pool[a.AreaCode] = append(pool[a.AreaCode], a)
	}
	log.Info("built address pools", zap.Int("regions", len(pool)), zap.Int("addresses", len(attributed)))

	result := &Result{}
	var outputs []tableOutput
	for _, table := range tables {
		persons, err := allocate.Allocate(allocate.Request{Pool: pool, Table: *table, Seed: seed})
		if err != nil {
			log.Error("table allocation failed",
				zap.String("table", table.Config.Name),
				zap.Error(err),
			)
			result.Failures = append(result.Failures, TableFailure{Table: table.Config.Name, Err: err})
			continue
		}
		outputs = append(outputs, tableOutput{
			features: table.Config.FeatureColumns,
			persons:  persons,
		})
		result.Tables++
	}
	if len(outputs) == 0 {
		return result, eris.Wrap(model.ErrAllocation, "all census tables failed to allocate")
	}

	features, merged, err := mergeTables(outputs)
	if err != nil {
		return result, err
	}

	rows, err := stream(ctx, merged, features, out, chunkSize)
	result.Rows = rows
	if err != nil {
		return result, err
	}

	log.Info("pipeline complete",
		zap.Int64("rows", result.Rows),
		zap.Int("tables", result.Tables),
		zap.Int("failed_tables", len(result.Failures)),
	)
	return result, nil
}

type tableOutput struct {
	features []string
	persons  []model.AllocatedPerson
}

// mergeKey joins per-table outputs on the identity columns.
type mergeKey struct {
	personID  int64
	region    string
	longitude float64
	latitude  float64
}

// mergeTables outer-joins the per-table person sets on
// [person_id, region_code, longitude, latitude], coalescing missing
// feature flags to false.
func mergeTables(outputs []tableOutput) ([]string, []model.AllocatedPerson, error) {
	if len(outputs) == 1 {
		return outputs[0].features, outputs[0].persons, nil
	}

	var features []string
	seen := make(map[string]bool)
	for _, o := range outputs {
		for _, f := range o.features {
			if seen[f] {
				return nil, nil, eris.Wrapf(model.ErrAllocation, "schema mismatch: feature column %s appears in more than one table", f)
			}
			seen[f] = true
			features = append(features, f)
		}
	}

	var merged []model.AllocatedPerson
	index := make(map[mergeKey]int)
	for _, o := range outputs {
		for _, p := range o.persons {
			k := mergeKey{personID: p.PersonID, region: p.RegionCode, longitude: p.Longitude, latitude: p.Latitude}
			i, ok := index[k]
			if !ok {
				flags := make(map[string]bool, len(features))
				for _, f := range features {
					flags[f] = false
				}
				i = len(merged)
				index[k] = i
				merged = append(merged, model.AllocatedPerson{
					PersonID:   p.PersonID,
					RegionCode: p.RegionCode,
					Longitude:  p.Longitude,
					Latitude:   p.Latitude,
					Flags:      flags,
				})
			}
			for f, v := range p.Flags {
				if v {
					merged[i].Flags[f] = true
				}
			}
		}
	}

	return features, merged, nil
}

// stream writes the final table to the sink in bounded chunks: the first
// chunk overwrites the destination, subsequent chunks append.
func stream(ctx context.Context, persons []model.AllocatedPerson, features []string, out sink.Sink, chunkSize int) (int64, error) {
	header := append([]string{"person_id", "region_code", "longitude", "latitude"}, features...)
	if err := out.Open(ctx, header); err != nil {
		return 0, err
	}

	var written int64
	for start := 0; start < len(persons); start += chunkSize {
		end := start + chunkSize
		if end > len(persons) {
			end = len(persons)
		}

		chunk := make([][]any, 0, end-start)
		for _, p := range persons[start:end] {
			row := make([]any, 0, len(header))
			row = append(row, p.PersonID, p.RegionCode, p.Longitude, p.Latitude)
			for _, f := range features {
				row = append(row, p.Flags[f])
			}
			chunk = append(chunk, row)
		}
		if err := out.Write(ctx, chunk); err != nil {
			return written, err
		}
		written += int64(len(chunk))
	}

	if err := out.Close(); err != nil {
		return written, err
	}
	return written, nil
}
