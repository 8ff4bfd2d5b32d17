package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"cobblepod/internal/apperr"
	"cobblepod/internal/model"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := OpenWithDB(context.Background(), db)
	require.NoError(t, err)
	return s
}

func TestUpsertUserIsIdempotentOnDeviceUUID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &model.User{InternalID: "u1", DeviceUUID: "dev-1"}
	require.NoError(t, s.UpsertUser(ctx, u))

	u.IsVIP = true
	expire := int64(1700000000000)
	u.VIPExpireMs = &expire
	require.NoError(t, s.UpsertUser(ctx, u))

	got, err := s.GetUserByDevice(ctx, "dev-1")
	require.NoError(t, err)
	require.Equal(t, "u1", got.InternalID)
	require.True(t, got.IsVIP)
	require.NotNil(t, got.VIPExpireMs)
	require.Equal(t, expire, *got.VIPExpireMs)
}

func TestGetUserByDeviceNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUserByDevice(context.Background(), "missing")
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestBindDeviceTracksDeviceCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pr := &model.PurchaseRecord{
		OriginalTransactionID: "otx-1",
		ProductID:             "monthly",
		PurchaseDateMs:        1000,
		Status:                model.StatusActive,
		Environment:           model.EnvProduction,
	}
	require.NoError(t, s.UpsertPurchaseRecord(ctx, pr))

	require.NoError(t, s.BindDevice(ctx, &model.DeviceBinding{
		OriginalTransactionID: "otx-1", DeviceUUID: "dev-a", BindTimeMs: 100, LastActiveTimeMs: 100,
	}))
	require.NoError(t, s.BindDevice(ctx, &model.DeviceBinding{
		OriginalTransactionID: "otx-1", DeviceUUID: "dev-b", BindTimeMs: 200, LastActiveTimeMs: 200,
	}))

	bindings, err := s.ListDeviceBindings(ctx, "otx-1")
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	require.Equal(t, "dev-a", bindings[0].DeviceUUID, "oldest binding must sort first")

	got, err := s.GetPurchaseRecord(ctx, "otx-1")
	require.NoError(t, err)
	require.Equal(t, 2, got.DeviceCount)

	require.NoError(t, s.UnbindDevice(ctx, "otx-1", "dev-a"))
	got, err = s.GetPurchaseRecord(ctx, "otx-1")
	require.NoError(t, err)
	require.Equal(t, 1, got.DeviceCount)
}

func TestUnbindDeviceNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UnbindDevice(context.Background(), "otx-missing", "dev-x")
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestNotificationLogIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seen, err := s.NotificationSeen(ctx, "n-1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, s.AppendNotificationLog(ctx, &model.NotificationLog{
		NotificationUUID: "n-1", NotificationType: "DID_RENEW",
	}))

	seen, err = s.NotificationSeen(ctx, "n-1")
	require.NoError(t, err)
	require.True(t, seen)

	err = s.AppendNotificationLog(ctx, &model.NotificationLog{
		NotificationUUID: "n-1", NotificationType: "DID_RENEW",
	})
	require.True(t, apperr.Is(err, apperr.KindDuplicate))
}

func TestPublishAndListPodcastsMarksLatestFree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := &model.Podcast{
		ID: "ep-1", Company: "acme", Channel: "news", AudioKey: "a1", SegmentsKey: "s1",
		SegmentCount: 3, Title: "Older", TimestampSec: 1000,
	}
	newer := &model.Podcast{
		ID: "ep-2", Company: "acme", Channel: "news", AudioKey: "a2", SegmentsKey: "s2",
		SegmentCount: 4, Title: "Newer", TimestampSec: 2000,
	}
	require.NoError(t, s.PublishPodcast(ctx, older))
	require.NoError(t, s.PublishPodcast(ctx, newer))

	list, err := s.ListPodcasts(ctx, "acme", "news", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "ep-2", list[0].ID)
	require.True(t, list[0].IsFree)
	require.False(t, list[1].IsFree)

	got, err := s.GetPodcast(ctx, "ep-2")
	require.NoError(t, err)
	require.True(t, got.IsFree)

	got, err = s.GetPodcast(ctx, "ep-1")
	require.NoError(t, err)
	require.False(t, got.IsFree)
}

func TestListChannelsAndDates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PublishPodcast(ctx, &model.Podcast{
		ID: "ep-1", Company: "acme", Channel: "news", AudioKey: "a1", SegmentsKey: "s1",
		SegmentCount: 1, Title: "T1", TimestampSec: 86400 * 10,
	}))
	require.NoError(t, s.PublishPodcast(ctx, &model.Podcast{
		ID: "ep-2", Company: "acme", Channel: "news", AudioKey: "a2", SegmentsKey: "s2",
		SegmentCount: 1, Title: "T2", TimestampSec: 86400*10 + 500,
	}))

	channels, err := s.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	require.Equal(t, "news", channels[0].Channel)

	dates, err := s.ListDates(ctx, "acme", "news")
	require.NoError(t, err)
	require.Equal(t, []int64{86400 * 10}, dates)
}
