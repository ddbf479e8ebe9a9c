package source

import (
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/housing-sim/synthpop-cli/internal/model"
)

func TestPolygonToMultiPolygon_SinglePart(t *testing.T) {
	p := &shp.Polygon{
		NumParts:  1,
		NumPoints: 5,
		Parts:     []int32{0},
		Points: []shp.Point{
			{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}, {X: 0, Y: 0},
		},
	}

	mp := polygonToMultiPolygon(p, 7844)
	require.NotNil(t, mp)
	assert.Equal(t, 7844, mp.SRID())
	require.Equal(t, 1, mp.NumPolygons())

	ring := mp.Polygon(0).LinearRing(0)
	assert.Equal(t, []float64{0, 0, 10, 0, 10, 10, 0, 10, 0, 0}, ring.FlatCoords())
}

func TestPolygonToMultiPolygon_MultiPart(t *testing.T) {
	p := &shp.Polygon{
		NumParts:  2,
		NumPoints: 10,
		Parts:     []int32{0, 5},
		Points: []shp.Point{
			{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}, {X: 0, Y: 0},
			{X: 5, Y: 5}, {X: 6, Y: 5}, {X: 6, Y: 6}, {X: 5, Y: 6}, {X: 5, Y: 5},
		},
	}

	mp := polygonToMultiPolygon(p, 7844)
	require.NotNil(t, mp)
	assert.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, geom.Coord{5, 5}, mp.Polygon(1).LinearRing(0).Coord(0))
}

func TestPolygonToMultiPolygon_Empty(t *testing.T) {
	assert.Nil(t, polygonToMultiPolygon(nil, 7844))
	assert.Nil(t, polygonToMultiPolygon(&shp.Polygon{}, 7844))
}

func TestReadShapefile_MissingFile(t *testing.T) {
	_, err := ReadShapefile("/nonexistent/areas.shp", ShapefileOptions{AreaCodeField: "SA1_CODE21", SRID: 7844})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrDataLoad))
}
