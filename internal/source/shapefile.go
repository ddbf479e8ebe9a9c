package source

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/housing-sim/synthpop-cli/internal/model"
)

// ShapefileOptions configures area-polygon loading.
type ShapefileOptions struct {
	AreaCodeField string // attribute column holding the area code, e.g. "SA1_CODE21"
	AreaNameField string // attribute column holding the area name, e.g. "SA2_NAME21"
	SRID          int    // declared CRS of the shapefile coordinates
}

// ReadShapefile loads area polygons from an ESRI shapefile. A shapefile
// carries no CRS in the .shp itself, so the caller declares the SRID;
// reprojection is out of scope and a mismatch downstream is fatal.
func ReadShapefile(path string, opts ShapefileOptions) (*model.AreaSet, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrDataLoad, "shapefile: open %s: %v", path, err)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	codeIdx, ok := fieldIdx[strings.ToLower(opts.AreaCodeField)]
	if !ok {
		return nil, eris.Wrapf(model.ErrDataLoad, "shapefile: %s has no field %q", path, opts.AreaCodeField)
	}
	nameIdx, hasName := fieldIdx[strings.ToLower(opts.AreaNameField)]

	set := &model.AreaSet{SRID: opts.SRID}
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		poly, pok := shape.(*shp.Polygon)
		if !pok {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly, opts.SRID)
		if mp == nil {
			skipped++
			continue
		}

		area := model.AreaPolygon{
			AreaCode: attribute(reader, codeIdx),
			Geometry: mp,
		}
		if hasName {
			area.AreaName = attribute(reader, nameIdx)
		}
		if area.AreaCode == "" {
			skipped++
			continue
		}
		set.Areas = append(set.Areas, area)
	}

	if skipped > 0 {
		zap.L().Debug("shapefile: skipped records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	if len(set.Areas) == 0 {
		return nil, eris.Wrapf(model.ErrDataLoad, "shapefile: %s contains no usable polygons", path)
	}

	return set, nil
}

func attribute(reader *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Each part becomes a single-ring polygon; part ring order is preserved.
func polygonToMultiPolygon(p *shp.Polygon, srid int) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("shapefile: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}

		if err := mp.Push(poly); err != nil {
			zap.L().Debug("shapefile: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
