package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/detection"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "sitewatch.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())

	version, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.NoError(t, db.Ping(context.Background()))
}

func TestEventRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ts := time.UnixMilli(1714560000123)
	want := &EventRecord{
		ID:        "evt-1",
		Camera:    1,
		Timestamp: ts,
		Filename:  "cam_1/1714560000.jpg",
		Boxes:     []detection.Box{{X1: 1, Y1: 2, X2: 3, Y2: 4}},
		Alerted:   true,
	}
	require.NoError(t, db.SaveEvent(ctx, want))

	got, err := db.GetEvent(ctx, "evt-1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}

	_, err = db.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListEventsFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.UnixMilli(1714560000000)

	events := []*EventRecord{
		{ID: "a", Camera: 0, Timestamp: base, Filename: "a.jpg"},
		{ID: "b", Camera: 1, Timestamp: base.Add(time.Second), Filename: "b.jpg", Boxes: []detection.Box{{X2: 1, Y2: 1}}},
		{ID: "c", Camera: 0, Timestamp: base.Add(2 * time.Second), Filename: "c.jpg", Boxes: []detection.Box{{X2: 2, Y2: 2}}},
	}
	for _, e := range events {
		require.NoError(t, db.SaveEvent(ctx, e))
	}

	ids := func(recs []*EventRecord) []string {
		var out []string
		for _, r := range recs {
			out = append(out, r.ID)
		}
		return out
	}

	all, err := db.ListEvents(ctx, EventFilter{Camera: -1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(all))

	cam0, err := db.ListEvents(ctx, EventFilter{Camera: 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(cam0))

	hits, err := db.ListEvents(ctx, EventFilter{Camera: -1, OnlyDetections: true, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(hits))

	recent, err := db.ListEvents(ctx, EventFilter{Camera: -1, Since: base.Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(recent))

	n, err := db.DeleteEventsBefore(ctx, base.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCamerasRegister(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.RegisterCamera(ctx, 1, "rtsp://b"))
	require.NoError(t, db.RegisterCamera(ctx, 0, "rtsp://a"))
	require.NoError(t, db.RegisterCamera(ctx, 1, "rtsp://b2"))

	cams, err := db.ListCameras(ctx)
	require.NoError(t, err)
	require.Len(t, cams, 2)
	assert.Equal(t, "rtsp://a", cams[0].URL)
	assert.Equal(t, "rtsp://b2", cams[1].URL)
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	defaults := Settings{Interval: 300 * time.Second}

	s, err := db.LoadSettings(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, defaults, s)

	require.NoError(t, db.SaveSettings(ctx, Settings{Interval: 5 * time.Second, Armed: true}))
	s, err = db.LoadSettings(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, Settings{Interval: 5 * time.Second, Armed: true}, s)

	require.NoError(t, db.SaveConfig(ctx, keyInterval, "0"))
	_, err = db.LoadSettings(ctx, defaults)
	assert.Error(t, err)
}
