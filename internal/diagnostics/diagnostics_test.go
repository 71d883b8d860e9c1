package diagnostics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-passenger/internal/auth"
	"github.com/example/ride-passenger/internal/storage"
)

// brokenDB fails the connectivity check and reports two tables missing.
type brokenDB struct{}

func (brokenDB) Ping(context.Context) error { return errors.New("dial tcp: connection refused") }

func (brokenDB) MissingTables(_ context.Context, tables []string) ([]string, error) {
	return []string{"payments", "ratings"}, nil
}

func TestMemoryStoreIsHealthy(t *testing.T) {
	mem := storage.NewMemoryStore(nil)
	r := NewRunner(time.Second, Database(mem), Schema(mem, storage.Tables))

	rep := r.Run(context.Background())
	assert.True(t, rep.Healthy)
	assert.Empty(t, rep.Errors)
	require.Len(t, rep.Checks, 2)
	assert.Equal(t, "database", rep.Checks[0].Name)
	assert.Equal(t, "schema", rep.Checks[1].Name)
	for _, c := range rep.Checks {
		assert.True(t, c.OK, c.Name)
		assert.GreaterOrEqual(t, c.LatencyMs, 0.0)
	}
	assert.False(t, rep.Timestamp.IsZero())
}

func TestFailingChecksAreReported(t *testing.T) {
	db := brokenDB{}
	r := NewRunner(time.Second, Database(db), Schema(db, storage.Tables))

	rep := r.Run(context.Background())
	assert.False(t, rep.Healthy)
	assert.Equal(t, []string{
		"database: dial tcp: connection refused",
		"schema: missing tables: payments, ratings",
	}, rep.Errors)
	assert.False(t, rep.Checks[0].OK)
	assert.Equal(t, "missing tables: payments, ratings", rep.Checks[1].Error)
}

func TestCheckIsBoundedByTimeout(t *testing.T) {
	slow := Func{Label: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	start := time.Now()
	rep := NewRunner(20*time.Millisecond, slow).Run(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, rep.Healthy)
	assert.Equal(t, context.DeadlineExceeded.Error(), rep.Checks[0].Error)
}

func TestAuthCheck(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/health", r.URL.Path)
		if down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"name":"auth"}`))
	}))
	defer srv.Close()

	c := auth.NewClient(srv.URL, "key", time.Second)
	r := NewRunner(time.Second, Auth(c.Health))
	assert.True(t, r.Run(context.Background()).Healthy)

	down.Store(true)
	rep := r.Run(context.Background())
	assert.False(t, rep.Healthy)
	require.Len(t, rep.Errors, 1)
	assert.Contains(t, rep.Errors[0], "auth: ")
}
