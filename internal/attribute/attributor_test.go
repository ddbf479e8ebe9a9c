package attribute

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/housing-sim/synthpop-cli/internal/model"
)

// square builds a single-polygon multipolygon covering [x0,x1]x[y0,y1].
func square(t *testing.T, x0, y0, x1, y1 float64) *geom.MultiPolygon {
	t.Helper()
	mp := geom.NewMultiPolygon(geom.XY)
	poly := geom.NewPolygon(geom.XY)
	_, err := poly.SetCoords([][]geom.Coord{{
		{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
	}})
	require.NoError(t, err)
	require.NoError(t, mp.Push(poly))
	return mp
}

func twoAreas(t *testing.T) *model.AreaSet {
	t.Helper()
	return &model.AreaSet{
		SRID: 7844,
		Areas: []model.AreaPolygon{
			{AreaCode: "SA1-WEST", AreaName: "West", Geometry: square(t, 0, 0, 10, 10)},
			{AreaCode: "SA1-EAST", AreaName: "East", Geometry: square(t, 10, 0, 20, 10)},
		},
	}
}

func points(pts ...model.AddressPoint) *model.AddressSet {
	return &model.AddressSet{SRID: 7844, Points: pts}
}

func TestAttribute_ContainmentJoin(t *testing.T) {
	addrs := points(
		model.AddressPoint{ID: "w", Longitude: 5, Latitude: 5},
		model.AddressPoint{ID: "e", Longitude: 15, Latitude: 5},
	)

	out, err := Attribute(context.Background(), addrs, twoAreas(t), Options{Policy: model.PolicyNone})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "w", out[0].ID)
	assert.Equal(t, "SA1-WEST", out[0].AreaCode)
	assert.Equal(t, "West", out[0].AreaName)
	assert.Equal(t, model.JoinMatched, out[0].Quality)

	assert.Equal(t, "e", out[1].ID)
	assert.Equal(t, "SA1-EAST", out[1].AreaCode)
}

func TestAttribute_PolicyNone(t *testing.T) {
	addrs := points(model.AddressPoint{ID: "far", Longitude: 100, Latitude: 100})

	out, err := Attribute(context.Background(), addrs, twoAreas(t), Options{Policy: model.PolicyNone})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].AreaCode)
	assert.Equal(t, model.JoinUnmatched, out[0].Quality)
}

func TestAttribute_PolicyDrop(t *testing.T) {
	addrs := points(
		model.AddressPoint{ID: "in", Longitude: 5, Latitude: 5},
		model.AddressPoint{ID: "out", Longitude: 100, Latitude: 100},
	)

	out, err := Attribute(context.Background(), addrs, twoAreas(t), Options{Policy: model.PolicyDrop})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "in", out[0].ID)
}

func TestAttribute_PolicyNearest(t *testing.T) {
	// Just east of the eastern square's boundary.
	addrs := points(model.AddressPoint{ID: "near-east", Longitude: 21, Latitude: 5})

	out, err := Attribute(context.Background(), addrs, twoAreas(t), Options{Policy: model.PolicyNearest})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "SA1-EAST", out[0].AreaCode)
	assert.Equal(t, model.JoinNearest, out[0].Quality)
}

func TestAttribute_PolicyNearestNoAreas(t *testing.T) {
	addrs := points(model.AddressPoint{ID: "p", Longitude: 1, Latitude: 1})
	areas := &model.AreaSet{SRID: 7844}

	out, err := Attribute(context.Background(), addrs, areas, Options{Policy: model.PolicyNearest})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.JoinUnmatched, out[0].Quality)
}

func TestAttribute_OverlappingAreasDuplicate(t *testing.T) {
	areas := &model.AreaSet{
		SRID: 7844,
		Areas: []model.AreaPolygon{
			{AreaCode: "A", Geometry: square(t, 0, 0, 10, 10)},
			{AreaCode: "B", Geometry: square(t, 5, 5, 15, 15)},
		},
	}
	addrs := points(model.AddressPoint{ID: "both", Longitude: 7, Latitude: 7})

	out, err := Attribute(context.Background(), addrs, areas, Options{Policy: model.PolicyNone})
	require.NoError(t, err)
	require.Len(t, out, 2, "a point inside two polygons yields two rows")
	assert.Equal(t, "A", out[0].AreaCode)
	assert.Equal(t, "B", out[1].AreaCode)
}

func TestAttribute_HoleExcludesPoint(t *testing.T) {
	mp := geom.NewMultiPolygon(geom.XY)
	poly := geom.NewPolygon(geom.XY)
	_, err := poly.SetCoords([][]geom.Coord{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}},
	})
	require.NoError(t, err)
	require.NoError(t, mp.Push(poly))
	areas := &model.AreaSet{SRID: 7844, Areas: []model.AreaPolygon{{AreaCode: "DONUT", Geometry: mp}}}

	addrs := points(
		model.AddressPoint{ID: "ring", Longitude: 2, Latitude: 2},
		model.AddressPoint{ID: "hole", Longitude: 5, Latitude: 5},
	)

	out, err := Attribute(context.Background(), addrs, areas, Options{Policy: model.PolicyNone})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, model.JoinMatched, out[0].Quality)
	assert.Equal(t, model.JoinUnmatched, out[1].Quality, "point in a hole is outside the area")
}

func TestAttribute_CRSMismatch(t *testing.T) {
	addrs := &model.AddressSet{SRID: 4326, Points: []model.AddressPoint{{ID: "p"}}}

	_, err := Attribute(context.Background(), addrs, twoAreas(t), Options{Policy: model.PolicyNone})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrSpatialJoin))
	assert.Contains(t, err.Error(), "EPSG:4326")
}

func TestAttribute_UnknownPolicy(t *testing.T) {
	addrs := points(model.AddressPoint{ID: "p"})

	_, err := Attribute(context.Background(), addrs, twoAreas(t), Options{Policy: model.UnmatchedPolicy("bogus")})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrConfiguration))
}

func TestAttribute_WorkerCountInvariant(t *testing.T) {
	pts := make([]model.AddressPoint, 0, 50)
	for i := 0; i < 50; i++ {
		pts = append(pts, model.AddressPoint{
			ID:        string(rune('a' + i%26)),
			Longitude: float64(i%20) + 0.5,
			Latitude:  float64(i%10) + 0.5,
		})
	}
	addrs := points(pts...)

	serial, err := Attribute(context.Background(), addrs, twoAreas(t), Options{Policy: model.PolicyNone, Workers: 1})
	require.NoError(t, err)

	for _, workers := range []int{2, 4, 8} {
		parallel, err := Attribute(context.Background(), addrs, twoAreas(t), Options{Policy: model.PolicyNone, Workers: workers})
		require.NoError(t, err)
		assert.Equal(t, serial, parallel, "workers=%d", workers)
	}
}

func TestAttribute_EmptyAddresses(t *testing.T) {
	out, err := Attribute(context.Background(), points(), twoAreas(t), Options{Policy: model.PolicyNone, Workers: 4})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSplitChunks(t *testing.T) {
	pts := make([]model.AddressPoint, 10)
	chunks := splitChunks(pts, 3)
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	assert.Equal(t, 10, total)

	assert.Len(t, splitChunks(pts, 1), 1)
}
