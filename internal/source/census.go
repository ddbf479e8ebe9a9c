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

	"github.com/housing-sim/synthpop-cli/internal/model"
)

// CensusOptions configures census table loading.
type CensusOptions struct {
	Pattern      string   // regexp matched against file names, e.g. `2021Census_G\d+[A-Z]?_AUST_SA1`
	RegionColumn string   // region code column, e.g. "SA1_CODE_2021"
	TotalPrefix  string   // feature columns with this prefix are totals and excluded
	RegionFilter []string // optional: keep only these region codes
}

// LoadCensusTable loads the census file for one configured table from dir.
// The file is located by the directory pattern plus the table name, so
// "G01" resolves 2021Census_G01_AUST_SA1.csv. CSV, PSV, and XLSX sources
// are supported.
func LoadCensusTable(ctx context.Context, dir string, table model.TableConfig, opts CensusOptions) (*model.CensusTable, error) {
	path, err := findCensusFile(dir, table.Name, opts.Pattern)
	if err != nil {
		return nil, err
	}

	rows, err := readRows(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.Wrapf(model.ErrDataLoad, "census: %s is empty", path)
	}

	idx := headerIndex(rows[0])
	regionIdx, ok := idx[strings.ToLower(opts.RegionColumn)]
	if !ok {
		return nil, eris.Wrapf(model.ErrDataLoad, "census: %s has no region column %q", path, opts.RegionColumn)
	}

	// Totals are aggregate columns, not features; exclude them up front.
	features := make([]string, 0, len(table.FeatureColumns))
	for _, col := range table.FeatureColumns {
		if opts.TotalPrefix != "" && strings.HasPrefix(col, opts.TotalPrefix) {
			zap.L().Debug("census: excluding total column",
				zap.String("table", table.Name), zap.String("column", col))
			continue
		}
		features = append(features, col)
	}
	if len(features) == 0 {
		return nil, eris.Wrapf(model.ErrConfiguration, "census: table %s has no feature columns after excluding totals", table.Name)
	}

	featureIdx := make(map[string]int, len(features))
	for _, col := range features {
		i, ok := idx[strings.ToLower(col)]
		if !ok {
			return nil, eris.Wrapf(model.ErrDataLoad, "census: %s has no column %q", path, col)
		}
		featureIdx[col] = i
	}

	var keep map[string]bool
	if len(opts.RegionFilter) > 0 {
		keep = make(map[string]bool, len(opts.RegionFilter))
		for _, code := range opts.RegionFilter {
			keep[code] = true
		}
	}

	out := &model.CensusTable{
		Config: model.TableConfig{
			Name:           table.Name,
			MultiResponse:  table.MultiResponse,
			FeatureColumns: features,
		},
	}
	for _, row := range rows[1:] {
		region := strings.TrimSpace(field(row, regionIdx))
		if region == "" {
			continue
		}
		if keep != nil && !keep[region] {
			continue
		}

		counts := make(map[string]int, len(features))
		for _, col := range features {
			raw := strings.TrimSpace(field(row, featureIdx[col]))
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, eris.Wrapf(model.ErrDataLoad, "census: %s: region %s column %s: bad count %q", path, region, col, raw)
			}
			if n < 0 {
				return nil, eris.Wrapf(model.ErrAllocation, "census: %s: region %s column %s: negative count %d", path, region, col, n)
			}
			counts[col] = n
		}
		out.Records = append(out.Records, model.CensusRecord{RegionCode: region, Counts: counts})
	}

	zap.L().Info("census: loaded table",
		zap.String("table", table.Name),
		zap.String("path", path),
		zap.Int("regions", len(out.Records)),
		zap.Int("features", len(features)),
	)

	return out, nil
}

// findCensusFile locates the single file matching both the directory
// pattern and the table name.
func findCensusFile(dir, tableName, pattern string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", eris.Wrapf(model.ErrConfiguration, "invalid census file pattern %q: %v", pattern, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrapf(model.ErrDataLoad, "census: read dir %s: %v", dir, err)
	}

	needle := "_" + strings.ToUpper(tableName) + "_"
	var matches []string
	for _, e := range entries {
		if e.IsDir() || !re.MatchString(e.Name()) {
			continue
		}
		if !strings.Contains(strings.ToUpper(e.Name()), needle) {
			continue
		}
		matches = append(matches, filepath.Join(dir, e.Name()))
	}
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", eris.Wrapf(model.ErrDataLoad, "census: no file in %s matches table %s", dir, tableName)
	case 1:
		return matches[0], nil
	default:
		return "", eris.Wrapf(model.ErrDataLoad, "census: table %s matches %d files in %s", tableName, len(matches), dir)
	}
}

// readRows materializes any supported tabular file, header row first.
func readRows(ctx context.Context, path string) ([][]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".xlsx" {
		return ReadXLSX(path, XLSXOptions{})
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrDataLoad, "census: open %s: %v", path, err)
	}
	defer f.Close()

	delimiter := ','
	if ext == ".psv" {
		delimiter = '|'
	}

	rowCh, errCh := StreamDelimited(ctx, f, DelimitedOptions{
		Delimiter: delimiter,
		TrimSpace: true,
	})

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return rows, nil
}
