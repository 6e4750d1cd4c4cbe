package sdk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-presence/internal/api"
	"github.com/celerix-dev/celerix-presence/internal/engine"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
	"github.com/celerix-dev/celerix-presence/pkg/sdk"
)

func startDaemon(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := engine.New(engine.NewMemStore(engine.Snapshot{}, nil, nil), nil)
	srv := httptest.NewServer(api.NewRouter(&api.Handler{Service: e}, api.RouterOptions{}))
	t.Cleanup(srv.Close)
	return srv, e
}

func ptr(f float64) *float64 { return &f }

func TestClient_Integration(t *testing.T) {
	ctx := context.Background()
	srv, _ := startDaemon(t)

	client, err := sdk.Connect(ctx, srv.URL)
	require.NoError(t, err)

	anna, err := client.Register(ctx, "Анна")
	require.NoError(t, err)
	assert.Equal(t, schema.StatusInside, anna.Status)
	require.NotEmpty(t, anna.Token)

	boris, err := client.Register(ctx, "Борис")
	require.NoError(t, err)

	moved, err := client.Transition(ctx, anna.Token, schema.TransitionRequest{Status: "work", Latitude: ptr(55.1), Longitude: ptr(37.2)})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusWork, moved.Status)
	require.NotNil(t, moved.Location)

	got, err := client.GetStatus(ctx, anna.Token)
	require.NoError(t, err)
	assert.Equal(t, 37.2, got.Location.Longitude)
	assert.True(t, moved.LastUpdate.Equal(got.LastUpdate))

	counts, err := client.AggregateCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.Counts{Inside: 1, Work: 1, Total: 2}, counts)

	absent, err := client.ListAbsent(ctx)
	require.NoError(t, err)
	require.Len(t, absent, 1)
	assert.True(t, absent[0].HasLocation)

	all, err := client.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	found, err := client.SearchByName(ctx, "бор")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, boris.Token, found[0].Token)

	reset, err := client.BulkReset(ctx, "dispatcher")
	require.NoError(t, err)
	assert.Equal(t, 2, reset.Affected)

	del, err := client.DeletePerson(ctx, found[0].ID, "dispatcher")
	require.NoError(t, err)
	assert.Equal(t, found[0].ID, del.DeletedID)

	audit, err := client.RecentAudit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, schema.AuditDelete, audit[0].Action)
	assert.Equal(t, "dispatcher", audit[0].Actor)
	assert.Equal(t, "dispatcher", audit[1].Actor)
}

func TestClient_ErrorMapping(t *testing.T) {
	ctx := context.Background()
	srv, _ := startDaemon(t)
	client := sdk.NewClient(srv.URL)

	_, err := client.Register(ctx, "A")
	assert.ErrorIs(t, err, sdk.ErrValidation)

	_, err = client.GetStatus(ctx, "nope")
	assert.ErrorIs(t, err, sdk.ErrNotFound)

	_, err = client.Transition(ctx, "nope", schema.TransitionRequest{Status: "work"})
	assert.ErrorIs(t, err, sdk.ErrNotFound)

	_, err = client.SearchByName(ctx, "a")
	assert.ErrorIs(t, err, sdk.ErrValidation)

	_, err = client.DeletePerson(ctx, 404, "")
	assert.ErrorIs(t, err, sdk.ErrNotFound)
}

func TestClient_RetriesReadsOnly(t *testing.T) {
	ctx := context.Background()
	var reads, writes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			if reads.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"service temporarily unavailable"}`))
				return
			}
			_, _ = w.Write([]byte(`{"inside":1,"work":0,"day_off":0,"request":0,"total":1}`))
			return
		}
		writes.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"service temporarily unavailable"}`))
	}))
	defer srv.Close()

	client := sdk.NewClient(srv.URL, sdk.WithRetries(3), sdk.WithTimeout(time.Second))

	counts, err := client.AggregateCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)
	assert.Equal(t, int32(3), reads.Load())

	_, err = client.BulkReset(ctx, "")
	assert.ErrorIs(t, err, sdk.ErrDependency)
	assert.Equal(t, int32(1), writes.Load(), "mutations are never retried")
}

func TestClient_Unreachable(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client := sdk.NewClient(addr, sdk.WithRetries(0), sdk.WithTimeout(time.Second))
	_, err := client.Register(ctx, "Анна")
	assert.True(t, errors.Is(err, sdk.ErrDependency), "got %v", err)

	_, err = sdk.Connect(ctx, addr, sdk.WithRetries(0))
	assert.Error(t, err)
}

func TestNew_Embedded(t *testing.T) {
	ctx := context.Background()
	t.Setenv(sdk.AddrEnv, "")
	dir := t.TempDir()

	svc, err := sdk.New(ctx, "", dir, nil)
	require.NoError(t, err)
	e, ok := svc.(*engine.Engine)
	require.True(t, ok, "expected the embedded engine, got %T", svc)

	p, err := svc.Register(ctx, "Анна")
	require.NoError(t, err)
	e.Store().(*engine.MemStore).Wait()

	// A second embedded instance sees the persisted roster.
	again, err := sdk.New(ctx, "", dir, nil)
	require.NoError(t, err)
	got, err := again.GetStatus(ctx, p.Token)
	require.NoError(t, err)
	assert.Equal(t, "Анна", got.FullName)
}

func TestNew_Remote(t *testing.T) {
	ctx := context.Background()
	srv, _ := startDaemon(t)

	t.Setenv(sdk.AddrEnv, srv.URL)
	svc, err := sdk.New(ctx, "", t.TempDir(), nil)
	require.NoError(t, err)
	_, ok := svc.(*sdk.Client)
	assert.True(t, ok, "expected the remote client, got %T", svc)

	_, err = sdk.New(ctx, "http://127.0.0.1:1", t.TempDir(), nil)
	assert.Error(t, err, "an unreachable daemon is not replaced by the embedded engine")
}
