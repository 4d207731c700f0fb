package stream

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-alerts/internal/errors"
	"market-alerts/internal/models"
)

func TestAlertBridge_PushSnapshot(t *testing.T) {
	s := NewSnapshotStore()
	b := NewAlertBridge(s, zerolog.Nop(), nil)

	err := b.PushSnapshot(models.SnapshotUpdate{
		InstrumentID: "X",
		Price:        101,
		Volume:       500,
		Bid:          models.Float(100.9),
		Ask:          models.Float(101.1),
	}, epoch)
	require.NoError(t, err)

	cur, ok := s.CurrentAt("X", epoch)
	require.True(t, ok)
	assert.Equal(t, 101.0, cur.Price)
	require.NotNil(t, cur.Bid)
	assert.Equal(t, 100.9, *cur.Bid)
	assert.Nil(t, cur.VWAP)
	assert.Equal(t, uint64(1), b.Stats().Accepted)
}

func TestAlertBridge_RejectsInvalidUpdates(t *testing.T) {
	s := NewSnapshotStore()
	b := NewAlertBridge(s, zerolog.Nop(), nil)

	cases := []models.SnapshotUpdate{
		{Price: 1},
		{InstrumentID: "X", Price: math.NaN()},
		{InstrumentID: "X", Price: -1},
		{InstrumentID: "X", Price: 1, Volume: math.Inf(1)},
		{InstrumentID: "X", Price: 1, VWAP: models.Float(math.NaN())},
	}
	for _, u := range cases {
		err := b.PushSnapshot(u, epoch)
		assert.True(t, errors.Is(err, errors.ErrInvalidSnapshot), "%+v", u)
	}
	assert.Zero(t, s.Len("X"))
	assert.Equal(t, uint64(len(cases)), b.Stats().Rejected)
}

func TestAlertBridge_UsesUpdateTimestamp(t *testing.T) {
	s := NewSnapshotStore()
	b := NewAlertBridge(s, zerolog.Nop(), nil)

	require.NoError(t, b.PushSnapshot(models.SnapshotUpdate{InstrumentID: "X", Price: 1, Timestamp: epoch}, time.Time{}))

	assert.Equal(t, epoch, s.History("X")[0].Timestamp)
}

func TestAlertBridge_PublishAndDrain(t *testing.T) {
	s := NewSnapshotStore()
	b := NewAlertBridgeWithConfig(s, zerolog.Nop(), nil, BridgeConfig{BufferSize: 2})

	assert.True(t, b.Publish(models.SnapshotUpdate{InstrumentID: "X", Price: 1, Timestamp: epoch}))
	assert.True(t, b.Publish(models.SnapshotUpdate{InstrumentID: "X", Price: 2, Timestamp: epoch.Add(time.Second)}))
	assert.False(t, b.Publish(models.SnapshotUpdate{InstrumentID: "X", Price: 3}))
	assert.Equal(t, uint64(1), b.Stats().Dropped)

	b.Start(context.Background())
	defer b.Stop()

	require.Eventually(t, func() bool { return s.Len("X") == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2.0, s.History("X")[1].Price)
}

func TestAlertBridge_ConcurrentStartStop(t *testing.T) {
	s := NewSnapshotStore()
	b := NewAlertBridge(s, zerolog.Nop(), nil)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Start(context.Background())
				b.Publish(models.SnapshotUpdate{InstrumentID: "X", Price: 1})
				b.Stop()
			}
		}()
	}
	wg.Wait()

	b.Start(context.Background())
	defer b.Stop()
	require.True(t, b.Publish(models.SnapshotUpdate{InstrumentID: "Y", Price: 2, Timestamp: epoch}))
	require.Eventually(t, func() bool { return s.Len("Y") == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketFeed_PushesUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan subscribeMessage, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err == nil {
			subscribed <- sub
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"X","price":100,"volume":10}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"symbol":"Y","price":5,"volume":1,"vwap":4.9},{"symbol":"X","price":101,"volume":12}]`))

		// Hold the connection open until the client goes away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	s := NewSnapshotStore()
	b := NewAlertBridge(s, zerolog.Nop(), nil)
	feed := NewWebSocketFeed(FeedConfig{
		URL:          "ws" + srv.URL[len("http"):],
		Symbols:      []string{"X", "Y"},
		InitialDelay: 10 * time.Millisecond,
	}, b, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	select {
	case sub := <-subscribed:
		assert.Equal(t, "subscribe", sub.Action)
		assert.Equal(t, []string{"X", "Y"}, sub.Symbols)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe message")
	}

	require.Eventually(t, func() bool { return s.Len("X") == 2 && s.Len("Y") == 1 }, 2*time.Second, 5*time.Millisecond)

	y, ok := s.Current("Y")
	require.True(t, ok)
	require.NotNil(t, y.VWAP)
	assert.Equal(t, 4.9, *y.VWAP)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
	assert.Equal(t, uint64(1), feed.Stats().Connects)
	assert.Equal(t, uint64(3), feed.Stats().Messages)
}

func TestDecodeUpdates(t *testing.T) {
	single, err := DecodeUpdates([]byte(` {"symbol":"X","price":1} `))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	many, err := DecodeUpdates([]byte(`[{"symbol":"X"},{"symbol":"Y"}]`))
	require.NoError(t, err)
	assert.Len(t, many, 2)

	_, err = DecodeUpdates([]byte(`{`))
	assert.Error(t, err)
}
