// Package config loads the log unit's tunables the way the teacher broker
// loads its own: flag defaults, overridden by a YAML file if one is given,
// overridden again by any flag the caller set explicitly, then normalized.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/corfudb-go/logunit/util"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable the log-unit engine and its surrounding
// server/CLI/bench binaries need.
type Config struct {
	// Storage
	LogDir             string `yaml:"log_dir"`
	RecordsPerSegment  uint64 `yaml:"records_per_segment"`
	QuotaBytes         int64  `yaml:"quota_bytes"`
	SegmentCacheSize   int    `yaml:"segment_cache_size"`
	MetadataSnapshotMS int    `yaml:"metadata_snapshot_interval_ms"`

	// Server
	HealthCheckPort int  `yaml:"health_check_port"`
	EnableExporter  bool `yaml:"enable_exporter"`
	ExporterPort    int  `yaml:"exporter_port"`
	AdminPort       int  `yaml:"admin_port"`

	LogLevel util.LogLevel `yaml:"log_level"`
}

// LoadConfig parses flags (and an optional -config YAML file, or
// $LOGUNIT_CONFIG_PATH) into a Config, applying defaults for anything left
// unset.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	configPath := flag.String("config", "", "Path to YAML config file")
	logDirStr := flag.String("log-dir", "logunit-data", "Root directory for segment files and metadata")
	recordsPerSegmentStr := flag.String("records-per-segment", "10000", "Addresses per segment file")
	quotaBytesStr := flag.String("quota-bytes", "0", "Disk quota in bytes for the log directory (0 = unbounded)")
	segmentCacheSizeStr := flag.String("segment-cache-size", "16", "Number of open segment handles kept resident")
	metadataSnapshotMSStr := flag.String("metadata-snapshot-interval-ms", "5000", "Metadata snapshot interval in milliseconds (stored in Config only; the engine snapshots metadata on Sync and Close)")
	healthPortStr := flag.String("health-port", "9080", "Health check server port")
	exporterStr := flag.String("exporter", "true", "Enable Prometheus exporter")
	exporterPortStr := flag.String("exporter-port", "9100", "Exporter port")
	adminPortStr := flag.String("admin-port", "9090", "Admin/diagnostic TCP port")
	logLevelStr := flag.String("log-level", "info", "Log level (debug, info, warn, error)")

	if envPath := os.Getenv("LOGUNIT_CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	flag.Parse()

	applyDefaults(cfg, logDirStr, recordsPerSegmentStr, quotaBytesStr, segmentCacheSizeStr,
		metadataSnapshotMSStr, healthPortStr, exporterStr, exporterPortStr, adminPortStr, logLevelStr)

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", *configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", *configPath, err)
		}
	}

	applyExplicitFlags(cfg, logDirStr, recordsPerSegmentStr, quotaBytesStr, segmentCacheSizeStr,
		metadataSnapshotMSStr, healthPortStr, exporterStr, exporterPortStr, adminPortStr, logLevelStr)

	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func parseLogLevel(s string) util.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return util.LogLevelDebug
	case "warn", "warning":
		return util.LogLevelWarn
	case "error":
		return util.LogLevelError
	default:
		return util.LogLevelInfo
	}
}

func applyDefaults(cfg *Config, logDirStr, recordsPerSegmentStr, quotaBytesStr, segmentCacheSizeStr,
	metadataSnapshotMSStr, healthPortStr, exporterStr, exporterPortStr, adminPortStr, logLevelStr *string) {
	cfg.LogDir = *logDirStr
	cfg.RecordsPerSegment = uint64(util.ParseInt(*recordsPerSegmentStr, 10000))
	if q, err := strconv.ParseInt(*quotaBytesStr, 10, 64); err == nil {
		cfg.QuotaBytes = q
	}
	cfg.SegmentCacheSize = util.ParseInt(*segmentCacheSizeStr, 16)
	cfg.MetadataSnapshotMS = util.ParseInt(*metadataSnapshotMSStr, 5000)
	cfg.HealthCheckPort = util.ParseInt(*healthPortStr, 9080)
	cfg.EnableExporter = util.ParseBool(*exporterStr, true)
	cfg.ExporterPort = util.ParseInt(*exporterPortStr, 9100)
	cfg.AdminPort = util.ParseInt(*adminPortStr, 9090)
	cfg.LogLevel = parseLogLevel(*logLevelStr)
}

// applyExplicitFlags re-applies any flag whose value differs from its
// documented default, so an explicit `-flag` always wins over whatever a
// YAML file set, matching the teacher's flags-beat-file precedence.
func applyExplicitFlags(cfg *Config, logDirStr, recordsPerSegmentStr, quotaBytesStr, segmentCacheSizeStr,
	metadataSnapshotMSStr, healthPortStr, exporterStr, exporterPortStr, adminPortStr, logLevelStr *string) {
	if *logDirStr != "logunit-data" {
		cfg.LogDir = *logDirStr
	}
	if *recordsPerSegmentStr != "10000" {
		cfg.RecordsPerSegment = uint64(util.ParseInt(*recordsPerSegmentStr, 10000))
	}
	if *quotaBytesStr != "0" {
		if q, err := strconv.ParseInt(*quotaBytesStr, 10, 64); err == nil {
			cfg.QuotaBytes = q
		}
	}
	if *segmentCacheSizeStr != "16" {
		cfg.SegmentCacheSize = util.ParseInt(*segmentCacheSizeStr, 16)
	}
	if *metadataSnapshotMSStr != "5000" {
		cfg.MetadataSnapshotMS = util.ParseInt(*metadataSnapshotMSStr, 5000)
	}
	if *healthPortStr != "9080" {
		cfg.HealthCheckPort = util.ParseInt(*healthPortStr, 9080)
	}
	if *exporterStr != "true" {
		cfg.EnableExporter = util.ParseBool(*exporterStr, true)
	}
	if *exporterPortStr != "9100" {
		cfg.ExporterPort = util.ParseInt(*exporterPortStr, 9100)
	}
	if *adminPortStr != "9090" {
		cfg.AdminPort = util.ParseInt(*adminPortStr, 9090)
	}
	if *logLevelStr != "info" {
		cfg.LogLevel = parseLogLevel(*logLevelStr)
	}
}

// Normalize fills in any field left at its zero value with a safe default,
// used both after flag parsing and by callers constructing a Config
// programmatically (tests, embedding).
func (cfg *Config) Normalize() {
	if strings.TrimSpace(cfg.LogDir) == "" {
		cfg.LogDir = "logunit-data"
	}
	if cfg.RecordsPerSegment == 0 {
		cfg.RecordsPerSegment = 10000
	}
	if cfg.SegmentCacheSize <= 0 {
		cfg.SegmentCacheSize = 16
	}
	if cfg.MetadataSnapshotMS <= 0 {
		cfg.MetadataSnapshotMS = 5000
	}
	if cfg.HealthCheckPort <= 0 {
		cfg.HealthCheckPort = 9080
	}
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}
	if cfg.AdminPort <= 0 {
		cfg.AdminPort = 9090
	}
}
