package visits_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"footfall/internal/testsupport"
	"footfall/internal/visits"
)

func TestLogAppend(t *testing.T) {
	ctx := context.Background()
	db := testsupport.SetupTestDB(t)
	log := visits.NewLog(db, testsupport.GetLogger(), visits.LogOptions{Cap: 3, DedupWindow: 10 * time.Second})
	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	t.Run("stores metadata", func(t *testing.T) {
		ok, err := log.Append(ctx, visits.VisitRecord{
			VisitorID: "v1", Timestamp: base, Path: "/",
			Language: "pt-BR", Timezone: "America/Sao_Paulo", Platform: "MacIntel", Screen: "1440x900",
		})
		require.NoError(t, err)
		assert.True(t, ok)

		recent, err := log.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, "pt-BR", recent[0].Language)
		assert.Equal(t, "1440x900", recent[0].Screen)
	})

	t.Run("drops repeats inside the dedup window", func(t *testing.T) {
		ok, err := log.Append(ctx, visits.VisitRecord{VisitorID: "v1", Timestamp: base.Add(5 * time.Second), Path: "/"})
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = log.Append(ctx, visits.VisitRecord{VisitorID: "v1", Timestamp: base.Add(5 * time.Second), Path: "/blog/"})
		require.NoError(t, err)
		assert.True(t, ok, "another path is not a repeat")

		ok, err = log.Append(ctx, visits.VisitRecord{VisitorID: "v1", Timestamp: base.Add(time.Minute), Path: "/"})
		require.NoError(t, err)
		assert.True(t, ok, "outside the window")
	})

	t.Run("evicts oldest beyond the cap", func(t *testing.T) {
		ok, err := log.Append(ctx, visits.VisitRecord{VisitorID: "v2", Timestamp: base.Add(2 * time.Minute), Path: "/contact/"})
		require.NoError(t, err)
		assert.True(t, ok)

		n, err := log.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		recent, err := log.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, "/contact/", recent[0].Path)
		assert.Equal(t, "/blog/", recent[2].Path, "the first record was evicted")
	})
}

func TestLogUniqueVisitors(t *testing.T) {
	ctx := context.Background()
	db := testsupport.SetupTestDB(t)
	log := visits.NewLog(db, testsupport.GetLogger(), visits.LogOptions{Cap: 1000})
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 40; i++ {
		_, err := log.Append(ctx, visits.VisitRecord{
			VisitorID: fmt.Sprintf("visitor-%d", i%10),
			Timestamp: now.Add(-time.Duration(i) * time.Hour),
			Path:      fmt.Sprintf("/p%d", i),
		})
		require.NoError(t, err)
	}
	_, err := log.Append(ctx, visits.VisitRecord{VisitorID: "ancient", Timestamp: now.AddDate(0, -3, 0), Path: "/"})
	require.NoError(t, err)

	est, err := log.UniqueVisitors(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.InDelta(t, 10, float64(est), 1)
}

func TestLogPrune(t *testing.T) {
	ctx := context.Background()
	db := testsupport.SetupTestDB(t)
	log := visits.NewLog(db, testsupport.GetLogger(), visits.LogOptions{Cap: 1000})
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, visits.VisitRecord{
			VisitorID: "v",
			Timestamp: now.AddDate(0, 0, -i*30),
			Path:      fmt.Sprintf("/p%d", i),
		})
		require.NoError(t, err)
	}

	deleted, err := log.Prune(ctx, now.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	n, err := log.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestLogByVisitor(t *testing.T) {
	ctx := context.Background()
	db := testsupport.SetupTestDB(t)
	log := visits.NewLog(db, testsupport.GetLogger(), visits.LogOptions{Cap: 100})
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "a", "a"} {
		_, err := log.Append(ctx, visits.VisitRecord{VisitorID: id, Timestamp: now.Add(time.Duration(i) * time.Minute), Path: fmt.Sprintf("/%d", i)})
		require.NoError(t, err)
	}

	got, err := log.ByVisitor(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/3", got[0].Path)
	assert.Equal(t, "/2", got[1].Path)

	none, err := log.ByVisitor(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
