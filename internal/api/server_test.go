package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"duneweaver/internal/clock"
	"duneweaver/internal/config"
	"duneweaver/internal/metrics"
	"duneweaver/internal/patterns"
	"duneweaver/internal/schedule"
	"duneweaver/internal/table"
	"duneweaver/pkg/service"
	"duneweaver/pkg/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticSchedule struct {
	entries []schedule.Entry
	err     error
}

func (s *staticSchedule) Load() ([]schedule.Entry, error) {
	return s.entries, s.err
}

type fixture struct {
	registry *service.Registry
	table    *testutil.FakeTable
	schedule *staticSchedule
	tables   *table.Manager
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	fake := testutil.NewFakeTable()
	t.Cleanup(fake.Close)

	sched := &staticSchedule{entries: []schedule.Entry{
		{Playlist: "Christmas", Kind: schedule.KindRange, Start: "24.12", End: "26.12"},
		{Playlist: "Easter", Kind: schedule.KindDynamic, Holiday: "easter"},
	}}
	clk := clock.NewMockClock(time.Date(2025, time.December, 25, 9, 0, 0, 0, time.UTC))
	registry := service.NewRegistry()

	deps := &table.Deps{
		Registry: registry,
		Schedule: sched,
		Resolver: schedule.NewResolver(logger),
		Clock:    clk,
		Location: time.UTC,
		Logger:   logger,
		Metrics:  metrics.New(reg),
	}
	tables := table.NewManager(deps, nil)
	t.Cleanup(tables.Close)

	host, port := fake.HostPort()
	_, err := tables.Add(config.Device{ID: "t1", Title: "Living Room", Host: host, Port: port})
	require.NoError(t, err)

	server := NewServer(Options{
		Registry: registry,
		Tables:   tables,
		Schedule: sched,
		Resolver: deps.Resolver,
		Clock:    clk,
		Location: time.UTC,
		Gatherer: reg,
		Logger:   logger,
		Port:     8090,
	})

	return &fixture{registry: registry, table: fake, schedule: sched, tables: tables, handler: server.Handler()}
}

func (f *fixture) do(method, target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["instances"])
}

func TestSitemap(t *testing.T) {
	f := newFixture(t)

	t.Run("plain text", func(t *testing.T) {
		w := f.do(http.MethodGet, "/")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
		assert.Contains(t, w.Body.String(), "/api/services/{service}")
	})

	t.Run("html", func(t *testing.T) {
		w := f.do(http.MethodGet, "/", "Accept", "text/html,application/xhtml+xml")
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "<h1>Dune Weaver API</h1>")
	})

	t.Run("unknown path", func(t *testing.T) {
		w := f.do(http.MethodGet, "/api/nope")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "Available endpoints")
	})
}

func TestHandleInstances(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/instances")
	require.Equal(t, http.StatusOK, w.Code)

	var body []InstanceResponse
	decode(t, w, &body)
	require.Len(t, body, 1)
	assert.Equal(t, "t1", body[0].ID)
	assert.Equal(t, "Living Room", body[0].Title)
	require.Len(t, body[0].Buttons, 2)
	assert.Equal(t, ButtonResponse{
		Name:     "Run Random Pattern (Living Room)",
		UniqueID: "duneweaver_t1_run_random",
		Service:  "run_random_pattern_t1",
		EntityID: "input_button.duneweaver_t1_run_random",
	}, body[0].Buttons[0])
	assert.Nil(t, body[0].LastAction)

	f.table.SetFiles("any.thr")
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/services/run_random_pattern_t1").Code)

	decode(t, f.do(http.MethodGet, "/api/instances"), &body)
	require.NotNil(t, body[0].LastAction)
	assert.Equal(t, "any.thr", body[0].LastAction.Outcome.Pattern)
}

func TestHandleListServices(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/services")
	require.Equal(t, http.StatusOK, w.Code)

	var body []service.Info
	decode(t, w, &body)
	var names []string
	for _, info := range body {
		names = append(names, info.Service)
	}
	assert.ElementsMatch(t, []string{"run_fitting_pattern_t1", "run_random_pattern_t1"}, names)
}

func TestHandleCallService(t *testing.T) {
	t.Run("fitting pattern runs", func(t *testing.T) {
		f := newFixture(t)
		f.table.SetPlaylist("Christmas", "tree.thr")

		w := f.do(http.MethodPost, "/api/services/run_fitting_pattern_t1")
		require.Equal(t, http.StatusOK, w.Code)

		var body CallResponse
		decode(t, w, &body)
		require.NotNil(t, body.Outcome)
		assert.Equal(t, patterns.StageActivePlaylist, body.Outcome.Stage)
		assert.Equal(t, "Christmas", body.Outcome.ActivePlaylist)
		assert.Equal(t, "tree.thr", body.Outcome.Pattern)
		assert.Empty(t, body.Error)
		assert.Len(t, f.table.Runs(), 1)
	})

	t.Run("exhausted chain is not an error", func(t *testing.T) {
		f := newFixture(t)

		w := f.do(http.MethodPost, "/api/services/run_fitting_pattern_t1")
		require.Equal(t, http.StatusOK, w.Code)

		var body CallResponse
		decode(t, w, &body)
		assert.Equal(t, patterns.StageNone, body.Outcome.Stage)
		assert.Empty(t, f.table.Runs())
	})

	t.Run("run failure is a bad gateway", func(t *testing.T) {
		f := newFixture(t)
		f.table.SetFiles("any.thr")
		f.table.FailRuns(http.StatusServiceUnavailable)

		w := f.do(http.MethodPost, "/api/services/run_random_pattern_t1")
		require.Equal(t, http.StatusBadGateway, w.Code)

		var body CallResponse
		decode(t, w, &body)
		assert.Contains(t, body.Error, "any.thr")
		assert.Equal(t, "any.thr", body.Outcome.Pattern)
	})

	t.Run("unknown service", func(t *testing.T) {
		f := newFixture(t)

		w := f.do(http.MethodPost, "/api/services/run_random_pattern_t2")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("client disconnect does not cancel the call", func(t *testing.T) {
		f := newFixture(t)

		var callErr error
		require.NoError(t, f.registry.Register("t9", "capture", func(ctx context.Context) (patterns.Outcome, error) {
			callErr = ctx.Err()
			return patterns.Outcome{Device: "t9"}, nil
		}))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodPost, "/api/services/capture_t9", nil).WithContext(ctx)
		w := httptest.NewRecorder()
		f.handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, callErr)
	})

	t.Run("wrong method", func(t *testing.T) {
		f := newFixture(t)

		w := f.do(http.MethodGet, "/api/services/run_random_pattern_t1")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		assert.Zero(t, f.table.Requests("/list_theta_rho_files"))
	})
}

func TestHandlePressButton(t *testing.T) {
	f := newFixture(t)
	f.table.SetFiles("any.thr")

	w := f.do(http.MethodPost, "/api/buttons/duneweaver_t1_run_random/press")
	require.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "pressed", body["status"])
	assert.Equal(t, "run_random_pattern_t1", body["service"])

	assert.Eventually(t, func() bool { return len(f.table.Runs()) == 1 }, 2*time.Second, 10*time.Millisecond)

	w = f.do(http.MethodPost, "/api/buttons/duneweaver_t9_run_random/press")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleActivePlaylist(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		query    string
		date     string
		playlist string
		active   bool
	}{
		{name: "defaults to today", query: "", date: "2025-12-25", playlist: "Christmas", active: true},
		{name: "easter", query: "?date=2025-04-20", date: "2025-04-20", playlist: "Easter", active: true},
		{name: "ordinary day", query: "?date=2025-03-03", date: "2025-03-03", active: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodGet, "/api/schedule/active"+tt.query)
			require.Equal(t, http.StatusOK, w.Code)

			var body ActivePlaylistResponse
			decode(t, w, &body)
			assert.Equal(t, tt.date, body.Date)
			assert.Equal(t, tt.playlist, body.Playlist)
			assert.Equal(t, tt.active, body.Active)
		})
	}

	t.Run("bad date", func(t *testing.T) {
		w := f.do(http.MethodGet, "/api/schedule/active?date=25.12.2025")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("schedule cannot be loaded", func(t *testing.T) {
		f.schedule.err = errors.New("open playlist_schedule.json: no such file or directory")
		defer func() { f.schedule.err = nil }()

		w := f.do(http.MethodGet, "/api/schedule/active")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "no such file")
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.table.SetFiles("any.thr")

	w := f.do(http.MethodPost, "/api/services/run_random_pattern_t1")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `duneweaver_pattern_runs_total{action="random",device="t1",result="started",stage="all_patterns"} 1`), body)
}
