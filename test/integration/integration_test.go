package integration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"duneweaver/internal/clock"
	"duneweaver/internal/config"
	"duneweaver/internal/ha"
	"duneweaver/internal/metrics"
	"duneweaver/internal/schedule"
	"duneweaver/internal/table"
	"duneweaver/pkg/service"
	"duneweaver/pkg/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "test_token_12345"

const scheduleJSON = `{
  "Christmas": {"type": "range", "start": "01.12", "end": "26.12"},
  "New Year": {"type": "range", "start": "27.12", "end": "06.01"},
  "Halloween": {"type": "dates", "dates": ["31.10"]},
  "Easter": {"type": "dynamic", "holiday": "easter"}
}`

type testEnv struct {
	server       *testutil.MockHAServer
	client       *ha.Client
	bridge       *ha.Bridge
	registry     *service.Registry
	tables       *table.Manager
	clock        *clock.MockClock
	prom         *prometheus.Registry
	scheduleFile string
}

func setupTest(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	server := testutil.NewMockHAServer(testToken)
	t.Cleanup(server.Close)

	client := ha.NewClient(server.URL(), testToken, logger)
	require.NoError(t, client.Connect())
	t.Cleanup(func() { client.Disconnect() })

	scheduleFile := filepath.Join(t.TempDir(), "playlist_schedule.json")
	require.NoError(t, os.WriteFile(scheduleFile, []byte(scheduleJSON), 0o644))

	bridge := ha.NewBridge(client, logger)
	registry := service.NewRegistry()
	prom := prometheus.NewRegistry()
	clk := clock.NewMockClock(now)

	deps := &table.Deps{
		Registry: registry,
		Schedule: schedule.NewLoader(scheduleFile, logger),
		Resolver: schedule.NewResolver(logger),
		Clock:    clk,
		Location: time.UTC,
		Logger:   logger,
		Metrics:  metrics.New(prom),
		Notifier: bridge,
	}

	tables := table.NewManager(deps, bridge)
	t.Cleanup(tables.Close)

	return &testEnv{
		server:       server,
		client:       client,
		bridge:       bridge,
		registry:     registry,
		tables:       tables,
		clock:        clk,
		prom:         prom,
		scheduleFile: scheduleFile,
	}
}

// addTable starts a fake table and sets it up under id
func (e *testEnv) addTable(t *testing.T, id, title string) *testutil.FakeTable {
	t.Helper()
	fake := testutil.NewFakeTable()
	t.Cleanup(fake.Close)

	host, port := fake.HostPort()
	_, err := e.tables.Add(config.Device{ID: id, Title: title, Host: host, Port: port})
	require.NoError(t, err)
	return fake
}

func (e *testEnv) writeSchedule(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(e.scheduleFile, []byte(content), 0o644))
}

func runCount(fake *testutil.FakeTable, n int) func() bool {
	return func() bool { return len(fake.Runs()) == n }
}

var (
	christmasDay = time.Date(2025, time.December, 25, 9, 0, 0, 0, time.UTC)
	ordinaryDay  = time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC)
)
