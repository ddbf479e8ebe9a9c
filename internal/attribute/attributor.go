// Package attribute assigns geocoded address points to the statistical-area
// polygons that contain them.
package attribute

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/housing-sim/synthpop-cli/internal/model"
)

// Options configures an attribution run.
type Options struct {
	Policy  model.UnmatchedPolicy
	Workers int // parallel chunks over the address set; <= 0 means 1
}

// Attribute joins every address point to the area polygons containing it.
// Addresses and polygons must share a CRS; a mismatch is fatal and never
// corrected here. A point inside multiple polygons yields one row per
// polygon. Points outside every polygon follow the configured policy.
//
// The address set is partitioned into disjoint chunks attributed in
// parallel against the full polygon set; chunk results are concatenated in
// chunk order, so output is identical regardless of worker count.
func Attribute(ctx context.Context, addresses *model.AddressSet, areas *model.AreaSet, opts Options) ([]model.AttributedAddress, error) {
	switch opts.Policy {
	case model.PolicyNone, model.PolicyNearest, model.PolicyDrop:
	default:
		return nil, eris.Wrapf(model.ErrConfiguration, "unknown unmatched-join policy %q", opts.Policy)
	}
	if addresses.SRID != areas.SRID {
		return nil, eris.Wrapf(model.ErrSpatialJoin,
			"address CRS EPSG:%d does not match polygon CRS EPSG:%d", addresses.SRID, areas.SRID)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(addresses.Points) {
		workers = len(addresses.Points)
	}
	if workers == 0 {
		return nil, nil
	}

	var unmatched atomic.Int64
	chunks := splitChunks(addresses.Points, workers)
	results := make([][]model.AttributedAddress, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return eris.Wrap(err, "attribute: context cancelled")
			}
			out, n := attributeChunk(chunk, areas.Areas, opts.Policy)
			results[i] = out
			unmatched.Add(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var joined []model.AttributedAddress
	for _, r := range results {
		joined = append(joined, r...)
	}

	if n := unmatched.Load(); n > 0 {
		zap.L().Warn("attribute: addresses outside every area polygon",
			zap.Int64("unmatched", n),
			zap.String("policy", string(opts.Policy)),
		)
	}

	return joined, nil
}

// attributeChunk joins one address slice against the full polygon set.
// Returns the attributed rows and the count of points no polygon contained.
func attributeChunk(points []model.AddressPoint, areas []model.AreaPolygon, policy model.UnmatchedPolicy) ([]model.AttributedAddress, int64) {
	out := make([]model.AttributedAddress, 0, len(points))
	var unmatched int64

	for _, pt := range points {
		coord := geom.Coord{pt.Longitude, pt.Latitude}

		matched := false
		for _, area := range areas {
			if !contains(area.Geometry, coord) {
				continue
			}
			matched = true
			out = append(out, model.AttributedAddress{
				AddressPoint: pt,
				AreaCode:     area.AreaCode,
				AreaName:     area.AreaName,
				Quality:      model.JoinMatched,
			})
		}
		if matched {
			continue
		}

		unmatched++
		switch policy {
		case model.PolicyDrop:
		case model.PolicyNearest:
			if i := nearest(areas, coord); i >= 0 {
				out = append(out, model.AttributedAddress{
					AddressPoint: pt,
					AreaCode:     areas[i].AreaCode,
					AreaName:     areas[i].AreaName,
					Quality:      model.JoinNearest,
				})
				continue
			}
			out = append(out, model.AttributedAddress{AddressPoint: pt, Quality: model.JoinUnmatched})
		default: // PolicyNone
			out = append(out, model.AttributedAddress{AddressPoint: pt, Quality: model.JoinUnmatched})
		}
	}

	return out, unmatched
}

// contains reports whether the point lies within the multipolygon: inside
// some polygon's outer ring and not inside any of that polygon's holes.
func contains(mp *geom.MultiPolygon, c geom.Coord) bool {
	if mp == nil || !mp.Bounds().OverlapsPoint(geom.XY, c) {
		return false
	}
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		if poly.NumLinearRings() == 0 {
			continue
		}
		if !xy.IsPointInRing(geom.XY, c, poly.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for r := 1; r < poly.NumLinearRings(); r++ {
			if xy.IsPointInRing(geom.XY, c, poly.LinearRing(r).FlatCoords()) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// nearest returns the index of the area whose boundary is closest to the
// point, or -1 when there are no areas. Ties keep the lower index.
func nearest(areas []model.AreaPolygon, c geom.Coord) int {
	best := -1
	bestDist := math.Inf(1)
	for i, area := range areas {
		d := boundaryDistance(area.Geometry, c)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// boundaryDistance is the minimum planar distance from the point to any
// ring of the multipolygon.
func boundaryDistance(mp *geom.MultiPolygon, c geom.Coord) float64 {
	min := math.Inf(1)
	if mp == nil {
		return min
	}
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for r := 0; r < poly.NumLinearRings(); r++ {
			d := xy.DistanceFromPointToLineString(geom.XY, c, poly.LinearRing(r).FlatCoords())
			if d < min {
				min = d
			}
		}
	}
	return min
}

// splitChunks partitions points into n contiguous, disjoint slices.
func splitChunks(points []model.AddressPoint, n int) [][]model.AddressPoint {
	if n <= 1 {
		return [][]model.AddressPoint{points}
	}
	chunks := make([][]model.AddressPoint, 0, n)
	size := (len(points) + n - 1) / n
	for start := 0; start < len(points); start += size {
		end := start + size
		if end > len(points) {
			end = len(points)
		}
		chunks = append(chunks, points[start:end])
	}
	return chunks
}
