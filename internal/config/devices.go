// Package config reads process settings from the environment and the table
// definitions from devices.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Device is one configured sand table. Host and port are what the original
// setup form asked for; the rest is optional.
type Device struct {
	ID      string `yaml:"id"`
	Title   string `yaml:"title"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	AutoRun string `yaml:"auto_run"`
}

// DevicesConfig represents the devices.yaml structure
type DevicesConfig struct {
	Devices []Device `yaml:"devices"`
}

// Validate checks the connection fields
func (d *Device) Validate() error {
	if d.Host == "" {
		return fmt.Errorf("host is required")
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("port %d out of range", d.Port)
	}
	return nil
}

// ApplyDefaults fills in the title and a stable id derived from host and port
func (d *Device) ApplyDefaults() {
	if d.Title == "" {
		d.Title = fmt.Sprintf("DuneWeaver @ %s:%d", d.Host, d.Port)
	}
	if d.ID == "" {
		id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("duneweaver://%s:%d", d.Host, d.Port)))
		d.ID = strings.ReplaceAll(id.String(), "-", "")
	}
}

// Loader reads table definitions
type Loader struct {
	configDir string
	logger    *zap.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger,
	}
}

// LoadDevices reads devices.yaml. Without the file, a single table is taken
// from DUNEWEAVER_HOST and DUNEWEAVER_PORT.
func (l *Loader) LoadDevices() ([]Device, error) {
	path := filepath.Join(l.configDir, DevicesFileName)
	l.logger.Debug("Loading devices config", zap.String("path", path))

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Info("No devices config found, using environment", zap.String("path", path))
		return l.devicesFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read devices config: %w", err)
	}

	var config DevicesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse devices config: %w", err)
	}

	return l.finalize(config.Devices)
}

func (l *Loader) devicesFromEnv() ([]Device, error) {
	host := os.Getenv(envDuneWeaverHost)
	if host == "" {
		return nil, fmt.Errorf("no %s in %s and %s is not set", DevicesFileName, l.configDir, envDuneWeaverHost)
	}

	port := DefaultDevicePort
	if raw := os.Getenv(envDuneWeaverPort); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", envDuneWeaverPort, raw)
		}
		port = p
	}

	return l.finalize([]Device{{
		ID:      os.Getenv(envDuneWeaverDevice),
		Title:   os.Getenv(envDuneWeaverTitle),
		Host:    host,
		Port:    port,
		AutoRun: os.Getenv(envDuneWeaverCron),
	}})
}

func (l *Loader) finalize(devices []Device) ([]Device, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices configured")
	}

	valid := make([]Device, 0, len(devices))
	seen := make(map[string]bool)
	var errs []error
	for i, d := range devices {
		if err := d.Validate(); err != nil {
			l.logger.Warn("Skipping invalid device", zap.Int("index", i), zap.Error(err))
			errs = append(errs, fmt.Errorf("device %d: %w", i, err))
			continue
		}
		d.ApplyDefaults()

		if seen[d.ID] {
			l.logger.Warn("Skipping duplicate device", zap.Int("index", i), zap.String("id", d.ID))
			errs = append(errs, fmt.Errorf("device %d: duplicate device id %s", i, d.ID))
			continue
		}
		seen[d.ID] = true
		valid = append(valid, d)
	}

	if len(valid) == 0 {
		return nil, fmt.Errorf("no valid devices configured: %w", errors.Join(errs...))
	}

	l.logger.Info("Devices config loaded", zap.Int("devices", len(valid)), zap.Int("skipped", len(errs)))
	return valid, nil
}
