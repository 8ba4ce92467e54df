package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/ArCaneSec/watcher/internal/models"
	"github.com/ArCaneSec/watcher/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunContract checks the behaviour every store.Store implementation shares.
// open must return an empty store that is cleaned up with t.
func RunContract(t *testing.T, open func(t *testing.T) store.Store) {
	cases := []struct {
		name string
		run  func(t *testing.T, s store.Store)
	}{
		{"TargetCRUD", testTargetCRUD},
		{"CreateTargetDuplicateURL", testCreateTargetDuplicateURL},
		{"UpdateTargetRefreshesUpdatedAt", testUpdateTargetRefreshesUpdatedAt},
		{"DeleteTargetCascadesOnlyItsChecks", testDeleteTargetCascadesOnlyItsChecks},
		{"LatestCheckOrdering", testLatestCheckOrdering},
		{"ListChecksPaging", testListChecksPaging},
		{"ListChangesNewestFirst", testListChangesNewestFirst},
		{"AppendCheckRejectsPersistedRecord", testAppendCheckRejectsPersistedRecord},
		{"UpdateTargetClearsName", testUpdateTargetClearsName},
		{"IDsIncrease", testIDsIncrease},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.run(t, open(t))
		})
	}
}

func strPtr(v string) *string { return &v }
func intPtr(v int) *int { return &v }
func boolPtr(v bool) *bool { return &v }

func newTarget(t *testing.T, s store.Store, url string, enabled bool) models.WatchTarget {
	t.Helper()

	target := models.WatchTarget{URL: url, CheckIntervalSeconds: 60, Enabled: enabled}
	require.NoError(t, s.CreateTarget(context.Background(), &target))
	require.NotZero(t, target.ID)
	return target
}

func appendCheck(t *testing.T, s store.Store, targetID uint, at time.Time, hash *string, changed bool) models.ContentCheck {
	t.Helper()

	check := models.ContentCheck{
		TargetID:       targetID,
		CheckedAt:      at,
		IsSuccess:      hash != nil,
		ContentHash:    hash,
		ContentChanged: changed,
	}
	require.NoError(t, s.AppendCheck(context.Background(), &check))
	return check
}

func testTargetCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()

	target := newTarget(t, s, "http://x/ok", true)
	newTarget(t, s, "http://x/off", false)

	got, err := s.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://x/ok", got.URL)
	assert.Equal(t, 60, got.CheckIntervalSeconds)

	all, err := s.ListTargets(ctx, store.TargetFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	enabled, err := s.ListTargets(ctx, store.EnabledOnly())
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, target.ID, enabled[0].ID)

	disabled, err := s.ListTargets(ctx, store.TargetFilter{Enabled: boolPtr(false)})
	require.NoError(t, err)
	require.Len(t, disabled, 1)
	assert.Equal(t, "http://x/off", disabled[0].URL)

	_, err = s.GetTarget(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCreateTargetDuplicateURL(t *testing.T, s store.Store) {
	newTarget(t, s, "http://x/ok", true)

	dup := models.WatchTarget{URL: "http://x/ok", CheckIntervalSeconds: 30, Enabled: true}
	err := s.CreateTarget(context.Background(), &dup)
	assert.ErrorIs(t, err, store.ErrDuplicateURL)
}

func testUpdateTargetRefreshesUpdatedAt(t *testing.T, s store.Store) {
	ctx := context.Background()
	target := newTarget(t, s, "http://x/ok", true)
	other := newTarget(t, s, "http://x/other", true)

	time.Sleep(5 * time.Millisecond)

	updated, err := s.UpdateTarget(ctx, target.ID, models.TargetPatch{
		CheckIntervalSeconds: intPtr(300),
		Enabled:              boolPtr(false),
		Name:                 strPtr("renamed"),
	})
	require.NoError(t, err)
	assert.Equal(t, 300, updated.CheckIntervalSeconds)
	assert.False(t, updated.Enabled)
	assert.Equal(t, "renamed", *updated.Name)
	assert.True(t, updated.UpdatedAt.After(target.UpdatedAt), "updated_at should move forward")

	reloaded, err := s.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, 300, reloaded.CheckIntervalSeconds)
	assert.False(t, reloaded.Enabled)

	_, err = s.UpdateTarget(ctx, target.ID, models.TargetPatch{URL: strPtr(other.URL)})
	assert.ErrorIs(t, err, store.ErrDuplicateURL)

	_, err = s.UpdateTarget(ctx, 9999, models.TargetPatch{Enabled: boolPtr(true)})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDeleteTargetCascadesOnlyItsChecks(t *testing.T, s store.Store) {
	ctx := context.Background()

	a := newTarget(t, s, "http://x/a", true)
	b := newTarget(t, s, "http://x/b", true)

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		appendCheck(t, s, a.ID, now.Add(time.Duration(i)*time.Second), strPtr("h"), false)
	}
	kept := appendCheck(t, s, b.ID, now, strPtr("h"), false)

	require.NoError(t, s.DeleteTarget(ctx, a.ID))

	_, err := s.GetTarget(ctx, a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	checks, err := s.ListChecks(ctx, a.ID, 100, 0)
	require.NoError(t, err)
	assert.Empty(t, checks)

	got, err := s.GetCheck(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.TargetID)

	assert.ErrorIs(t, s.DeleteTarget(ctx, a.ID), store.ErrNotFound)
}

func testLatestCheckOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	target := newTarget(t, s, "http://x/ok", true)

	_, err := s.LatestCheck(ctx, target.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	appendCheck(t, s, target.ID, base.Add(2*time.Second), strPtr("newest-by-time"), false)
	appendCheck(t, s, target.ID, base, strPtr("older"), false)

	latest, err := s.LatestCheck(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, "newest-by-time", *latest.ContentHash)

	// same timestamp: the later insert wins
	tieA := appendCheck(t, s, target.ID, base.Add(5*time.Second), strPtr("tie-a"), false)
	tieB := appendCheck(t, s, target.ID, base.Add(5*time.Second), strPtr("tie-b"), false)
	require.Greater(t, tieB.ID, tieA.ID)

	latest, err = s.LatestCheck(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, tieB.ID, latest.ID)
}

func testListChecksPaging(t *testing.T, s store.Store) {
	ctx := context.Background()
	target := newTarget(t, s, "http://x/ok", true)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		appendCheck(t, s, target.ID, base.Add(time.Duration(i)*time.Minute), strPtr(string(rune('a'+i))), false)
	}

	page, err := s.ListChecks(ctx, target.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "e", *page[0].ContentHash)
	assert.Equal(t, "d", *page[1].ContentHash)

	page, err = s.ListChecks(ctx, target.ID, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", *page[0].ContentHash)
}

func testListChangesNewestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := newTarget(t, s, "http://x/a", true)
	b := newTarget(t, s, "http://x/b", true)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	appendCheck(t, s, a.ID, base, strPtr("1"), false)
	first := appendCheck(t, s, a.ID, base.Add(time.Minute), strPtr("2"), true)
	second := appendCheck(t, s, b.ID, base.Add(2*time.Minute), strPtr("3"), true)

	changes, err := s.ListChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, second.ID, changes[0].ID)
	assert.Equal(t, first.ID, changes[1].ID)

	changes, err = s.ListChanges(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func testAppendCheckRejectsPersistedRecord(t *testing.T, s store.Store) {
	target := newTarget(t, s, "http://x/ok", true)

	check := appendCheck(t, s, target.ID, time.Now().UTC(), nil, false)
	assert.Error(t, s.AppendCheck(context.Background(), &check))
}

func testUpdateTargetClearsName(t *testing.T, s store.Store) {
	ctx := context.Background()
	target := models.WatchTarget{URL: "http://x/named", Name: strPtr("home"), CheckIntervalSeconds: 60, Enabled: true}
	require.NoError(t, s.CreateTarget(ctx, &target))

	updated, err := s.UpdateTarget(ctx, target.ID, models.TargetPatch{Enabled: boolPtr(false)})
	require.NoError(t, err)
	require.NotNil(t, updated.Name)
	assert.Equal(t, "home", *updated.Name)

	updated, err = s.UpdateTarget(ctx, target.ID, models.TargetPatch{ClearName: true})
	require.NoError(t, err)
	assert.Nil(t, updated.Name)

	reloaded, err := s.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.Name)
	assert.False(t, reloaded.Enabled)
}

func testIDsIncrease(t *testing.T, s store.Store) {
	a := newTarget(t, s, "http://x/a", true)
	b := newTarget(t, s, "http://x/b", true)
	assert.Greater(t, b.ID, a.ID)

	dup := models.WatchTarget{URL: "http://x/a", CheckIntervalSeconds: 60, Enabled: true}
	require.ErrorIs(t, s.CreateTarget(context.Background(), &dup), store.ErrDuplicateURL)
	assert.Zero(t, dup.ID)

	c := newTarget(t, s, "http://x/c", true)
	assert.Greater(t, c.ID, b.ID)

	first := appendCheck(t, s, a.ID, time.Now().UTC(), nil, false)
	second := appendCheck(t, s, a.ID, time.Now().UTC(), nil, false)
	assert.Greater(t, second.ID, first.ID)
}
