package cliconfig

import (
	"bytes"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	PartitionID       *int     `toml:"partition_id"`
	DataDir           string   `toml:"data_dir"`
	StateDir          string   `toml:"state_dir"`
	InMemory          *bool    `toml:"in_memory"`
	RoleFile          string   `toml:"role_file"`
	ListenAddr        string   `toml:"listen_addr"`
	LogLevel          string   `toml:"log_level"`
	PollInterval      string   `toml:"poll_interval"`
	EngineRoles       []string `toml:"engine_roles"`
	ShutdownTimeout   string   `toml:"shutdown_timeout"`
	RequestTimeout    string   `toml:"request_timeout"`
	RetainRecords     *int     `toml:"retain_records"`
	RetentionInterval string   `toml:"retention_interval"`
	InitialRole       string   `toml:"initial_role"`
	InitialTerm       *int64   `toml:"initial_term"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
// Unknown keys are rejected so typos do not go unnoticed.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.roleshift/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".roleshift", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setInt("partition-id", fc.PartitionID, &cfg.PartitionID)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("state-dir", fc.StateDir, &cfg.StateDir)
	s.setBool("in-memory", fc.InMemory, &cfg.InMemory)
	s.setString("role-file", fc.RoleFile, &cfg.RoleFile)
	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setStrings("engine-roles", fc.EngineRoles, &cfg.EngineRoles)
	s.setString("initial-role", fc.InitialRole, &cfg.InitialRole)
	s.setInt64("initial-term", fc.InitialTerm, &cfg.InitialTerm)
	s.setInt("retain-records", fc.RetainRecords, &cfg.RetainRecords)

	if err := s.setDuration("poll", fc.PollInterval, &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setDuration("request-timeout", fc.RequestTimeout, &cfg.RequestTimeout); err != nil {
		return err
	}
	if err := s.setDuration("retention-interval", fc.RetentionInterval, &cfg.RetentionInterval); err != nil {
		return err
	}
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
