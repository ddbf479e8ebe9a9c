package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housing-sim/synthpop-cli/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleAttribution() []model.AttributedAddress {
	return []model.AttributedAddress{
		{
			AddressPoint: model.AddressPoint{
				ID: "GAWA_1", Longitude: 115.85, Latitude: -31.95,
				BuildingType: "PC", Postcode: "6000", State: "WA",
			},
			AreaCode: "50101", AreaName: "Perth City", Quality: model.JoinMatched,
		},
		{
			AddressPoint: model.AddressPoint{ID: "GAWA_2", Longitude: 115.86, Latitude: -31.96},
			Quality:      model.JoinUnmatched,
		},
		{
			AddressPoint: model.AddressPoint{ID: "GAWA_3", Longitude: 115.87, Latitude: -31.97},
			AreaCode:     "50102", Quality: model.JoinNearest,
		},
	}
}

func TestAttributionRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	key := CacheKey("/data/gnaf", "/data/sa1.shp", "EPSG:7844", model.PolicyNearest)

	require.NoError(t, s.SaveAttribution(ctx, key, sampleAttribution()))

	loaded, ok, err := s.LoadAttribution(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleAttribution(), loaded, "row order and content survive the cache")
}

func TestLoadAttribution_Miss(t *testing.T) {
	s := openStore(t)

	loaded, ok, err := s.LoadAttribution(context.Background(), "no-such-key")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, loaded)
}

func TestSaveAttribution_Replaces(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	key := "k"

	require.NoError(t, s.SaveAttribution(ctx, key, sampleAttribution()))
	require.NoError(t, s.SaveAttribution(ctx, key, sampleAttribution()[:1]))

	loaded, ok, err := s.LoadAttribution(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, loaded, 1, "re-save replaces, never appends")
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("/g", "/s.shp", "EPSG:7844", model.PolicyNone)
	assert.Equal(t, a, CacheKey("/g", "/s.shp", "EPSG:7844", model.PolicyNone))
	assert.NotEqual(t, a, CacheKey("/g", "/s.shp", "EPSG:7844", model.PolicyDrop))
	assert.NotEqual(t, a, CacheKey("/g2", "/s.shp", "EPSG:7844", model.PolicyNone))
	assert.Len(t, a, 64)
}

func TestRunLog(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.StartRun(ctx, "allocate")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "allocate", runs[0].Command)
	assert.Equal(t, RunRunning, runs[0].Status)
	assert.False(t, runs[0].FinishedAt.Valid)

	require.NoError(t, s.FinishRun(ctx, id, RunCompleted, "", 1234))

	runs, err = s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunCompleted, runs[0].Status)
	assert.Equal(t, int64(1234), runs[0].RowsOut)
	assert.True(t, runs[0].FinishedAt.Valid)
}

func TestListRuns_Limit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.StartRun(ctx, "attribute")
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}
