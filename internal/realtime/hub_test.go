package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	got  []Change
	seen chan struct{}
}

func newCollector() *collector { return &collector{seen: make(chan struct{}, 100)} }

func (c *collector) handle(ch Change) {
	c.mu.Lock()
	c.got = append(c.got, ch)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []Change {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.seen:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Change(nil), c.got...)
}

func rideChange(t *testing.T, id, status string) Change {
	t.Helper()
	c, err := NewChange(TableRides, Update, map[string]any{"id": id, "status": status})
	require.NoError(t, err)
	return c
}

func TestHubFiltersByColumn(t *testing.T) {
	h := NewHub()
	defer h.Close()
	c := newCollector()
	_, err := h.Subscribe(Filter{Table: TableRides, Column: "id", Value: "r1"}, c.handle)
	require.NoError(t, err)

	h.Publish(rideChange(t, "r2", "ASSIGNED"))
	h.Publish(rideChange(t, "r1", "ASSIGNED"))

	got := c.wait(t, 1)
	require.Len(t, got, 1)
	var row map[string]string
	require.NoError(t, got[0].Decode(&row))
	assert.Equal(t, "r1", row["id"])
}

func TestHubDeliversInOrder(t *testing.T) {
	h := NewHub()
	defer h.Close()
	c := newCollector()
	_, err := h.Subscribe(Filter{Table: TableRides}, c.handle)
	require.NoError(t, err)

	statuses := []string{"ASSIGNED", "ENROUTE", "STARTED", "COMPLETED"}
	for _, s := range statuses {
		h.Publish(rideChange(t, "r1", s))
	}
	got := c.wait(t, len(statuses))
	for i, ch := range got {
		var row map[string]string
		require.NoError(t, ch.Decode(&row))
		assert.Equal(t, statuses[i], row["status"])
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	defer h.Close()
	c := newCollector()
	sub, err := h.Subscribe(Filter{Table: TableRides}, c.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Len())

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, h.Len())

	h.Publish(rideChange(t, "r1", "ASSIGNED"))
	select {
	case <-c.seen:
		t.Fatal("event delivered after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	h := NewHub()
	h.Close()
	_, err := h.Subscribe(Filter{Table: TableRides}, func(Change) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDecodeNotification(t *testing.T) {
	c, err := DecodeNotification([]byte(`{"table":"payments","type":"INSERT","record":{"id":"p1","ride_id":"r1"}}`))
	require.NoError(t, err)
	assert.Equal(t, TablePayments, c.Table)
	assert.Equal(t, Insert, c.Type)

	_, err = DecodeNotification([]byte(`{"table":"payments","type":"TRUNCATE"}`))
	assert.Error(t, err)
	_, err = DecodeNotification([]byte(`not json`))
	assert.Error(t, err)
}

type fakeReader struct {
	msgs []kafka.Message
	errs int
	i    int
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if f.errs > 0 {
		f.errs--
		return kafka.Message{}, errors.New("broker unavailable")
	}
	if f.i < len(f.msgs) {
		m := f.msgs[f.i]
		f.i++
		return m, nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) Close() error { return nil }

func TestKafkaSourcePublishesDriverLocations(t *testing.T) {
	h := NewHub()
	defer h.Close()
	c := newCollector()
	_, err := h.Subscribe(Filter{Table: TableDriverLocations, Column: "driver_id", Value: "d1"}, c.handle)
	require.NoError(t, err)

	r := &fakeReader{msgs: []kafka.Message{
		{Value: []byte(`garbage`)},
		{Value: []byte(`{"driver_id":"d2","lat":1,"lng":2}`)},
		{Value: []byte(`{"driver_id":"d1","lat":-6.2,"lng":106.8}`)},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = NewKafkaSourceFromReader(r, h, logger).Run(ctx)
		close(done)
	}()

	got := c.wait(t, 1)
	cancel()
	<-done
	require.Len(t, got, 1)
	assert.Equal(t, Update, got[0].Type)
}
