package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/station"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, "test", time.Hour), srv
}

func TestStoreSaveGetDelete(t *testing.T) {
	store, srv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, ActiveSession{StationID: "CP1", ConnectorID: 1, IDTag: "TAG1", TransactionID: 7}))
	assert.True(t, srv.Exists("test:sessions:active:7"))
	assert.Equal(t, time.Hour, srv.TTL("test:sessions:active:7"))

	got, err := store.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "TAG1", got.IDTag)

	require.NoError(t, store.Delete(ctx, "CP1", 7))
	_, err = store.Get(ctx, 7)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestStoreListAndDeleteStation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, ActiveSession{StationID: "CP2", ConnectorID: 1, TransactionID: 3}))
	require.NoError(t, store.Save(ctx, ActiveSession{StationID: "CP1", ConnectorID: 2, TransactionID: 2}))
	require.NoError(t, store.Save(ctx, ActiveSession{StationID: "CP1", ConnectorID: 1, TransactionID: 1}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{list[0].TransactionID, list[1].TransactionID, list[2].TransactionID})

	require.NoError(t, store.DeleteStation(ctx, "CP1"))
	list, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "CP2", list[0].StationID)
}

func TestMirrorAppliesEventsInOrder(t *testing.T) {
	store, _ := newTestStore(t)
	mirror := NewMirror(store, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mirror.Run(ctx)

	mirror.Publish(ctx, station.Event{Type: station.EventTransactionStarted, StationID: "CP1", ConnectorID: 1, TransactionID: 1, IDTag: "A"})
	mirror.Publish(ctx, station.Event{Type: station.EventTransactionStarted, StationID: "CP1", ConnectorID: 2, TransactionID: 2, IDTag: "B"})
	mirror.Publish(ctx, station.Event{Type: station.EventTransactionStopped, StationID: "CP1", ConnectorID: 1, TransactionID: 1})
	mirror.Publish(ctx, station.Event{Type: station.EventMeterSample, StationID: "CP1"})

	require.Eventually(t, func() bool {
		list, err := store.List(ctx)
		return err == nil && len(list) == 1 && list[0].TransactionID == 2
	}, time.Second, 10*time.Millisecond)

	mirror.Publish(ctx, station.Event{Type: station.EventStationDisconnected, StationID: "CP1"})
	require.Eventually(t, func() bool {
		list, err := store.List(ctx)
		return err == nil && len(list) == 0
	}, time.Second, 10*time.Millisecond)
}
