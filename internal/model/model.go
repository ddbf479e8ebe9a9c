// Package model defines the core data types shared across the synthesis
// pipeline: address points, area polygons, attributed addresses, census
// tables, and allocated synthetic persons.
package model

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// AddressPoint is a single geocoded address. Sourced from GNAF default
// geocode files and never mutated after load.
type AddressPoint struct {
	ID           string
	Longitude    float64
	Latitude     float64
	BuildingType string
	Postcode     string
	State        string
}

// AddressSet is a collection of address points with a declared CRS.
type AddressSet struct {
	SRID   int
	Points []AddressPoint
}

// AreaPolygon is one statistical-area boundary from a shapefile.
type AreaPolygon struct {
	AreaCode string
	AreaName string
	Geometry *geom.MultiPolygon
}

// AreaSet is a polygon collection with a declared CRS.
type AreaSet struct {
	SRID  int
	Areas []AreaPolygon
}

// JoinQuality marks how an address was attributed to its area.
type JoinQuality string

const (
	JoinMatched   JoinQuality = "matched"
	JoinNearest   JoinQuality = "nearest"
	JoinUnmatched JoinQuality = "unmatched"
)

// UnmatchedPolicy selects how addresses outside every polygon are handled.
type UnmatchedPolicy string

const (
	// PolicyNone keeps unmatched addresses with empty area fields.
	PolicyNone UnmatchedPolicy = "none"
	// PolicyNearest assigns the polygon with the minimum boundary distance.
	PolicyNearest UnmatchedPolicy = "nearest"
	// PolicyDrop omits unmatched addresses from the output.
	PolicyDrop UnmatchedPolicy = "drop"
)

// ParseUnmatchedPolicy validates a policy string from configuration.
func ParseUnmatchedPolicy(s string) (UnmatchedPolicy, error) {
	switch UnmatchedPolicy(strings.ToLower(s)) {
	case PolicyNone, "":
		return PolicyNone, nil
	case PolicyNearest:
		return PolicyNearest, nil
	case PolicyDrop:
		return PolicyDrop, nil
	}
	return "", eris.Wrapf(ErrConfiguration, "unknown unmatched-join policy %q", s)
}

// AttributedAddress is an AddressPoint joined to its containing area.
// AreaCode and AreaName are empty when Quality is JoinUnmatched.
type AttributedAddress struct {
	AddressPoint
	AreaCode string
	AreaName string
	Quality  JoinQuality
}

// CensusRecord is one aggregate row: a region code plus non-negative
// per-feature counts.
type CensusRecord struct {
	RegionCode string
	Counts     map[string]int
}

// CensusTable is a loaded census table together with its configuration.
type CensusTable struct {
	Config  TableConfig
	Records []CensusRecord
}

// TableConfig describes one census table to allocate.
type TableConfig struct {
	Name           string   `yaml:"name"`
	MultiResponse  bool     `yaml:"multi_response"`
	FeatureColumns []string `yaml:"census_features"`
}

// AllocatedPerson is one synthetic individual placed at a GNAF address.
// Flags holds one entry per feature column; in single-response tables
// exactly one flag is true.
type AllocatedPerson struct {
	PersonID   int64
	RegionCode string
	Longitude  float64
	Latitude   float64
	Flags      map[string]bool
}

// ParseSRID extracts the numeric SRID from an EPSG identifier such as
// "EPSG:7844". A bare number is also accepted.
func ParseSRID(crs string) (int, error) {
	s := strings.TrimSpace(crs)
	if rest, ok := strings.CutPrefix(strings.ToUpper(s), "EPSG:"); ok {
		s = rest
	}
	srid, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || srid <= 0 {
		return 0, eris.Wrapf(ErrConfiguration, "invalid CRS identifier %q", crs)
	}
	return srid, nil
}
