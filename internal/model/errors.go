package model

import "github.com/rotisserie/eris"

// Error kinds for the pipeline. Callers classify failures with eris.Is;
// context (the offending file, region, or parameter) is attached at the
// wrap site.
var (
	// ErrConfiguration marks an invalid parameter, raised before any
	// processing begins.
	ErrConfiguration = eris.New("configuration error")

	// ErrDataLoad marks a source file that cannot be read or parsed.
	// Recoverable per-file when loading an independent fan-out set,
	// fatal when the failing file is a hard dependency.
	ErrDataLoad = eris.New("data load error")

	// ErrSpatialJoin marks a CRS mismatch between addresses and polygons.
	// Never auto-corrected.
	ErrSpatialJoin = eris.New("spatial join error")

	// ErrAllocation marks an unsatisfiable or malformed quota: an empty
	// address pool with a positive quota, a schema mismatch across
	// per-feature outputs, or a negative census count.
	ErrAllocation = eris.New("allocation error")

	// ErrSink marks a write failure on the output sink. Always fatal
	// because partially written chunked output is inconsistent.
	ErrSink = eris.New("sink error")
)
