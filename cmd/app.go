package main

import (
	"fmt"

	"duneweaver/internal/clock"
	"duneweaver/internal/config"
	"duneweaver/internal/metrics"
	"duneweaver/internal/schedule"
	"duneweaver/internal/table"
	"duneweaver/pkg/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app is the object graph shared by serve and run
type app struct {
	registry *service.Registry
	prom     *prometheus.Registry
	schedule *schedule.Loader
	resolver *schedule.Resolver
	clock    clock.Clock
	deps     *table.Deps
	devices  []config.Device
}

func (e *env) newApp() (*app, error) {
	devices, err := config.NewLoader(e.settings.ConfigDir, e.logger).LoadDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}

	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt := &app{
		registry: service.NewRegistry(),
		prom:     prom,
		schedule: schedule.NewLoader(e.settings.ScheduleFile, e.logger),
		resolver: schedule.NewResolver(e.logger),
		clock:    clock.NewRealClock(),
		devices:  devices,
	}

	rt.deps = &table.Deps{
		Registry: rt.registry,
		Schedule: rt.schedule,
		Resolver: rt.resolver,
		Clock:    rt.clock,
		Location: e.settings.Timezone,
		Logger:   e.logger,
		Metrics:  metrics.New(prom),
		ReadOnly: e.settings.ReadOnly,
	}
	return rt, nil
}
