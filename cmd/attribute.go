package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/housing-sim/synthpop-cli/internal/attribute"
	"github.com/housing-sim/synthpop-cli/internal/model"
	"github.com/housing-sim/synthpop-cli/internal/source"
	"github.com/housing-sim/synthpop-cli/internal/store"
)

var attributeForce bool

var attributeCmd = &cobra.Command{
	Use:   "attribute",
	Short: "Join GNAF addresses to area polygons and cache the result",
	Long:  "Runs the spatial containment join between GNAF address points and the statistical-area shapefile, applying the configured unmatched-join policy, and caches the attributed addresses for later allocation runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openCache(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		attributed, fromCache, err := attributedAddresses(ctx, st, attributeForce)
		if err != nil {
			return err
		}

		counts := map[model.JoinQuality]int{}
		for _, a := range attributed {
			counts[a.Quality]++
		}
		zap.L().Info("attribution complete",
			zap.Int("rows", len(attributed)),
			zap.Bool("from_cache", fromCache),
			zap.Int("matched", counts[model.JoinMatched]),
			zap.Int("nearest", counts[model.JoinNearest]),
			zap.Int("unmatched", counts[model.JoinUnmatched]),
		)
		return nil
	},
}

func init() {
	attributeCmd.Flags().BoolVar(&attributeForce, "force", false, "recompute even when a cached attribution exists")
	rootCmd.AddCommand(attributeCmd)
}

// openCache opens and migrates the SQLite cache store.
func openCache(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(cfg.Cache.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// attributedAddresses returns the attributed address table, either from
// the cache or by running the spatial join (and caching the result).
func attributedAddresses(ctx context.Context, st *store.Store, force bool) ([]model.AttributedAddress, bool, error) {
	policy, err := model.ParseUnmatchedPolicy(cfg.Simulation.UnmatchedPolicy)
	if err != nil {
		return nil, false, err
	}

	key := store.CacheKey(cfg.Data.GNAFDir, cfg.Data.ShapefilePath, cfg.Data.CRS, policy)
	if cfg.Cache.Enabled && !force {
		cached, ok, err := st.LoadAttribution(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			zap.L().Info("using cached attribution", zap.Int("rows", len(cached)))
			return cached, true, nil
		}
		zap.L().Warn("no cached attribution found, running spatial join; this is the slow path",
			zap.String("cache", cfg.Cache.Path))
	}

	srid, err := model.ParseSRID(cfg.Data.CRS)
	if err != nil {
		return nil, false, err
	}

	addresses, err := source.LoadGNAFDir(ctx, cfg.Data.GNAFDir, source.GNAFOptions{
		Pattern: cfg.Data.GNAFPattern,
		SRID:    srid,
		Workers: cfg.Simulation.Workers,
	})
	if err != nil {
		return nil, false, err
	}

	areas, err := source.ReadShapefile(cfg.Data.ShapefilePath, source.ShapefileOptions{
		AreaCodeField: cfg.Data.AreaCodeField,
		AreaNameField: cfg.Data.AreaNameField,
		SRID:          srid,
	})
	if err != nil {
		return nil, false, err
	}

	attributed, err := attribute.Attribute(ctx, addresses, areas, attribute.Options{
		Policy:  policy,
		Workers: cfg.Simulation.Workers,
	})
	if err != nil {
		return nil, false, err
	}

	if cfg.Cache.Enabled {
		if err := st.SaveAttribution(ctx, key, attributed); err != nil {
			return nil, false, eris.Wrap(err, "cache attribution")
		}
	}
	return attributed, false, nil
}
