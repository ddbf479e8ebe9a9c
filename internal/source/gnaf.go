package source

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/housing-sim/synthpop-cli/internal/model"
)

// GNAFOptions configures loading of GNAF default-geocode files.
type GNAFOptions struct {
	Pattern string // regexp matched against file names, e.g. `[A-Z]+_ADDRESS_DEFAULT_GEOCODE_psv`
	SRID    int    // declared CRS of the coordinates
	Workers int    // parallel file loads; <= 0 means 4
}

// LoadGNAFDir loads every per-state GNAF geocode file in dir whose name
// matches the configured pattern. Files load in parallel; a file that fails
// to parse is logged and skipped since the per-state set is independent.
// Loading fails only when no file loads at all.
func LoadGNAFDir(ctx context.Context, dir string, opts GNAFOptions) (*model.AddressSet, error) {
	re, err := regexp.Compile(opts.Pattern)
	if err != nil {
		return nil, eris.Wrapf(model.ErrConfiguration, "invalid GNAF file pattern %q: %v", opts.Pattern, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(model.ErrDataLoad, "gnaf: read dir %s: %v", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !re.MatchString(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, eris.Wrapf(model.ErrDataLoad, "gnaf: no files in %s match %q", dir, opts.Pattern)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	log := zap.L().With(zap.String("component", "source.gnaf"))
	perFile := make([][]model.AddressPoint, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			points, err := loadGNAFFile(gctx, path)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				log.Warn("gnaf: skipping unreadable file", zap.String("path", path), zap.Error(err))
				return nil
			}
			perFile[i] = points
			log.Info("gnaf: loaded file", zap.String("path", path), zap.Int("addresses", len(points)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := &model.AddressSet{SRID: opts.SRID}
	for _, points := range perFile {
		set.Points = append(set.Points, points...)
	}
	if len(set.Points) == 0 {
		return nil, eris.Wrapf(model.ErrDataLoad, "gnaf: all %d matching files in %s failed to load", len(paths), dir)
	}

	return set, nil
}

func loadGNAFFile(ctx context.Context, path string) ([]model.AddressPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrDataLoad, "gnaf: open %s: %v", path, err)
	}
	defer f.Close()

	delimiter := ','
	if strings.Contains(strings.ToLower(filepath.Base(path)), "psv") {
		delimiter = '|'
	}

	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamDelimited(ctx, f, DelimitedOptions{
		Delimiter: delimiter,
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	header, ok := <-headerCh
	if !ok {
		if err := <-errCh; err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(model.ErrDataLoad, "gnaf: %s is empty", path)
	}
	idx := headerIndex(header)

	pidIdx, ok := idx["address_detail_pid"]
	if !ok {
		return nil, eris.Wrapf(model.ErrDataLoad, "gnaf: %s has no ADDRESS_DETAIL_PID column", path)
	}
	lonIdx, ok := idx["longitude"]
	if !ok {
		return nil, eris.Wrapf(model.ErrDataLoad, "gnaf: %s has no LONGITUDE column", path)
	}
	latIdx, ok := idx["latitude"]
	if !ok {
		return nil, eris.Wrapf(model.ErrDataLoad, "gnaf: %s has no LATITUDE column", path)
	}
	typeIdx := optionalIndex(idx, "geocode_type_code")
	postcodeIdx := optionalIndex(idx, "postcode")
	stateIdx := optionalIndex(idx, "state")

	var points []model.AddressPoint
	for row := range rowCh {
		lon, err := strconv.ParseFloat(field(row, lonIdx), 64)
		if err != nil {
			return nil, eris.Wrapf(model.ErrDataLoad, "gnaf: %s: bad longitude %q: %v", path, field(row, lonIdx), err)
		}
		lat, err := strconv.ParseFloat(field(row, latIdx), 64)
		if err != nil {
			return nil, eris.Wrapf(model.ErrDataLoad, "gnaf: %s: bad latitude %q: %v", path, field(row, latIdx), err)
		}
		points = append(points, model.AddressPoint{
			ID:           field(row, pidIdx),
			Longitude:    lon,
			Latitude:     lat,
			BuildingType: field(row, typeIdx),
			Postcode:     field(row, postcodeIdx),
			State:        field(row, stateIdx),
		})
	}
	if err := <-errCh; err != nil {
		return nil, err
	}

	return points, nil
}

func optionalIndex(idx map[string]int, name string) int {
	if i, ok := idx[name]; ok {
		return i
	}
	return -1
}
