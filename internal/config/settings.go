package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Defaults for settings not present in the environment
const (
	DefaultConfigDir    = "./configs"
	DefaultAPIPort      = 8090
	ScheduleFileName    = "playlist_schedule.json"
	DevicesFileName     = "devices.yaml"
	DefaultDevicePort   = 8080
	envConfigDir        = "CONFIG_DIR"
	envScheduleFile     = "SCHEDULE_FILE"
	envAPIPort          = "API_PORT"
	envHAURL            = "HA_URL"
	envHAToken          = "HA_TOKEN"
	envReadOnly         = "READ_ONLY"
	envTimezone         = "TIMEZONE"
	envLogDebug         = "LOG_DEBUG"
	envDuneWeaverHost   = "DUNEWEAVER_HOST"
	envDuneWeaverPort   = "DUNEWEAVER_PORT"
	envDuneWeaverTitle  = "DUNEWEAVER_TITLE"
	envDuneWeaverCron   = "DUNEWEAVER_AUTO_RUN"
	envDuneWeaverDevice = "DUNEWEAVER_ID"
)

// Settings holds process-wide configuration read from the environment
type Settings struct {
	ConfigDir    string
	ScheduleFile string
	APIPort      int
	HAURL        string
	HAToken      string
	ReadOnly     bool
	Debug        bool
	Timezone     *time.Location
}

// HAEnabled reports whether the Home Assistant bridge should connect
func (s *Settings) HAEnabled() bool {
	return s.HAURL != "" && s.HAToken != ""
}

// SettingsFromEnv reads Settings from environment variables
func SettingsFromEnv() (*Settings, error) {
	s := &Settings{
		ConfigDir: getEnv(envConfigDir, DefaultConfigDir),
		APIPort:   DefaultAPIPort,
		HAURL:     os.Getenv(envHAURL),
		HAToken:   os.Getenv(envHAToken),
		ReadOnly:  os.Getenv(envReadOnly) == "true",
		Debug:     os.Getenv(envLogDebug) == "true",
		Timezone:  time.Local,
	}

	s.ScheduleFile = getEnv(envScheduleFile, filepath.Join(s.ConfigDir, ScheduleFileName))

	if raw := os.Getenv(envAPIPort); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port < 0 || port > 65535 {
			return nil, fmt.Errorf("invalid %s %q", envAPIPort, raw)
		}
		s.APIPort = port
	}

	if tz := os.Getenv(envTimezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", envTimezone, tz, err)
		}
		s.Timezone = loc
	}

	return s, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
