// Package allocate converts aggregate census counts into individual
// synthetic persons placed at attributed GNAF addresses.
//
// For every (region, feature) pair the quota is satisfied by sampling the
// region's address pool without replacement; when the quota exceeds the
// pool the pool is repeated cyclically so no coordinate is ever invented
// and no address is over-represented beyond what repetition implies.
// Sampling is seeded per (region, feature), so results are identical
// whether regions are processed sequentially or fanned out across workers.
package allocate

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/housing-sim/synthpop-cli/internal/model"
)

// Request is one allocation over a single census table.
type Request struct {
	// Pool maps region codes to the attributed addresses of that region.
	Pool map[string][]model.AttributedAddress
	// Table supplies the per-region feature quotas and the response mode.
	Table model.CensusTable
	// Seed is the run seed; per-(region, feature) sub-seeds derive from it.
	Seed int64
}

// Allocate distributes every (region, feature) quota over the region's
// address pool and combines the per-feature selections according to the
// table's response mode. Output rows carry sequential person IDs starting
// at zero.
func Allocate(req Request) ([]model.AllocatedPerson, error) {
	features := req.Table.Config.FeatureColumns
	if len(features) == 0 {
		return nil, eris.Wrapf(model.ErrConfiguration, "table %s has no feature columns", req.Table.Config.Name)
	}

	if err := validate(req, features); err != nil {
		return nil, err
	}

	// Deterministic region order regardless of source file order.
	records := make([]model.CensusRecord, len(req.Table.Records))
	copy(records, req.Table.Records)
	sort.Slice(records, func(i, j int) bool { return records[i].RegionCode < records[j].RegionCode })

	var persons []model.AllocatedPerson
	if req.Table.Config.MultiResponse {
		persons = combineJoined(req, records, features)
	} else {
		persons = combineStacked(req, records, features)
	}

	for i := range persons {
		persons[i].PersonID = int64(i)
	}

	zap.L().Info("allocate: table complete",
		zap.String("table", req.Table.Config.Name),
		zap.Bool("multi_response", req.Table.Config.MultiResponse),
		zap.Int("persons", len(persons)),
	)

	return persons, nil
}

// validate applies the fail-fast checks before any sampling happens:
// negative quotas, schema mismatches, and positive quotas over regions
// with no candidate addresses are all fatal for the table.
func validate(req Request, features []string) error {
	table := req.Table.Config.Name
	for _, rec := range req.Table.Records {
		for _, f := range features {
			quota, ok := rec.Counts[f]
			if !ok {
				return eris.Wrapf(model.ErrAllocation, "schema mismatch: table %s region %s has no count for feature %s", table, rec.RegionCode, f)
			}
			if quota < 0 {
				return eris.Wrapf(model.ErrAllocation, "invalid negative census count %d: table %s region %s feature %s", quota, table, rec.RegionCode, f)
			}
			if quota > 0 && len(req.Pool[rec.RegionCode]) == 0 {
				return eris.Wrapf(model.ErrAllocation, "no candidate addresses for region %s (table %s feature %s quota %d)", rec.RegionCode, table, f, quota)
			}
		}
	}
	return nil
}

// sampleFeature draws quota addresses from the pool for one feature.
// Whole cycles of the pool are kept as-is and only the remainder is
// sampled without replacement, so every address appears at least
// quota/len(pool) times and never twice within one cycle; the selected
// set is then shuffled so output order carries no bias. All randomness
// comes from the per-(region, feature) seed.
func sampleFeature(pool []model.AttributedAddress, quota int, seed int64) []model.AttributedAddress {
	if quota == 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(seed))
	full := quota / len(pool)
	rem := quota - full*len(pool)

	selected := make([]model.AttributedAddress, 0, quota)
	for r := 0; r < full; r++ {
		selected = append(selected, pool...)
	}
	if rem > 0 {
		for _, idx := range rng.Perm(len(pool))[:rem] {
			selected = append(selected, pool[idx])
		}
	}

	rng.Shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})

	return selected
}

// subSeed derives the sampling seed for one (region, feature) pair from
// the run seed. Deterministic, so chunked execution cannot change results.
func subSeed(seed int64, region, feature string) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seed))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(region))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(feature))
	return int64(h.Sum64())
}

// combineStacked implements single-response combination: every selected
// (address, feature) pair becomes its own output row, features stacked
// vertically in configuration order with the other flags false.
func combineStacked(req Request, records []model.CensusRecord, features []string) []model.AllocatedPerson {
	var persons []model.AllocatedPerson
	for _, f := range features {
		for _, rec := range records {
			selected := sampleFeature(req.Pool[rec.RegionCode], rec.Counts[f], subSeed(req.Seed, rec.RegionCode, f))
			for _, addr := range selected {
				flags := make(map[string]bool, len(features))
				for _, other := range features {
					flags[other] = other == f
				}
				persons = append(persons, model.AllocatedPerson{
					RegionCode: rec.RegionCode,
					Longitude:  addr.Longitude,
					Latitude:   addr.Latitude,
					Flags:      flags,
				})
			}
		}
	}
	return persons
}

// occurrenceKey identifies the n-th selection of one coordinate within a
// feature, so duplicate selections (quota above pool size) join
// positionally instead of collapsing.
type occurrenceKey struct {
	region     string
	longitude  float64
	latitude   float64
	occurrence int
}

// combineJoined implements multi-response combination: per-feature
// selections are outer-joined on (region, longitude, latitude), missing
// flags coalesced to false, so one address may carry several true flags.
func combineJoined(req Request, records []model.CensusRecord, features []string) []model.AllocatedPerson {
	var persons []model.AllocatedPerson
	index := make(map[occurrenceKey]int)

	for _, f := range features {
		for _, rec := range records {
			selected := sampleFeature(req.Pool[rec.RegionCode], rec.Counts[f], subSeed(req.Seed, rec.RegionCode, f))
			seen := make(map[occurrenceKey]int, len(selected))
			for _, addr := range selected {
				base := occurrenceKey{region: rec.RegionCode, longitude: addr.Longitude, latitude: addr.Latitude}
				k := base
				k.occurrence = seen[base]
				seen[base]++

				if i, ok := index[k]; ok {
					persons[i].Flags[f] = true
					continue
				}
				flags := make(map[string]bool, len(features))
				for _, other := range features {
					flags[other] = other == f
				}
				index[k] = len(persons)
				persons = append(persons, model.AllocatedPerson{
					RegionCode: rec.RegionCode,
					Longitude:  addr.Longitude,
					Latitude:   addr.Latitude,
					Flags:      flags,
				})
			}
		}
	}
	return persons
}
