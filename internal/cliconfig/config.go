package cliconfig

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/roleshift/pkg/log"
	"github.com/bft-labs/roleshift/pkg/partition"
	"github.com/bft-labs/roleshift/pkg/transition"
)

// DefaultListenAddr is the default address of the HTTP API.
const DefaultListenAddr = "127.0.0.1:7460"

// Config holds CLI configuration for roleshift.
type Config struct {
	PartitionID int
	DataDir     string
	StateDir    string
	InMemory    bool

	RoleFile   string
	ListenAddr string
	LogLevel   string

	PollInterval    time.Duration
	EngineRoles     []string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration

	RetainRecords     int
	RetentionInterval time.Duration

	InitialRole string
	InitialTerm int64
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        DefaultListenAddr,
		LogLevel:          "info",
		PollInterval:      200 * time.Millisecond,
		EngineRoles:       []string{transition.RoleLeader.String()},
		ShutdownTimeout:   30 * time.Second,
		RequestTimeout:    10 * time.Second,
		RetainRecords:     partition.DefaultRetainRecords,
		RetentionInterval: partition.DefaultRetentionInterval,
		StateDir:          "", // Derived from DataDir during Validate
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.PartitionID < 0 {
		return fmt.Errorf("partition-id must not be negative")
	}
	if c.DataDir == "" && !c.InMemory {
		return fmt.Errorf("data-dir is required (or in-memory)")
	}

	if c.StateDir == "" {
		if c.DataDir == "" {
			return fmt.Errorf("state-dir is required with an in-memory log")
		}
		c.StateDir = filepath.Join(c.DataDir, "state")
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}

	if c.RetainRecords < 0 {
		return fmt.Errorf("retain-records must not be negative")
	}

	if _, err := c.engineRoles(); err != nil {
		return err
	}

	if c.InitialRole != "" {
		if _, err := transition.ParseRole(c.InitialRole); err != nil {
			return fmt.Errorf("initial-role: %w", err)
		}
	}
	if c.InitialTerm < 0 {
		return fmt.Errorf("initial-term must not be negative")
	}
	return nil
}

// Initial returns the role to request at startup, if any.
func (c Config) Initial() (term int64, role transition.Role, ok bool) {
	if c.InitialRole == "" {
		return 0, transition.RoleInactive, false
	}
	role, err := transition.ParseRole(c.InitialRole)
	if err != nil {
		return 0, transition.RoleInactive, false
	}
	return c.InitialTerm, role, true
}

// Partition converts the CLI configuration to a partition configuration.
func (c Config) Partition() (partition.Config, error) {
	roles, err := c.engineRoles()
	if err != nil {
		return partition.Config{}, err
	}
	return partition.Config{
		PartitionID:       c.PartitionID,
		DataDir:           c.DataDir,
		InMemory:          c.InMemory,
		StateDir:          c.StateDir,
		EngineRoles:       roles,
		PollInterval:      c.PollInterval,
		ShutdownTimeout:   c.ShutdownTimeout,
		RetainRecords:     uint64(c.RetainRecords),
		RetentionInterval: c.RetentionInterval,
	}, nil
}

func (c Config) engineRoles() ([]transition.Role, error) {
	if len(c.EngineRoles) == 0 {
		return nil, errors.New("engine-roles must name at least one role")
	}
	roles := make([]transition.Role, 0, len(c.EngineRoles))
	for _, s := range c.EngineRoles {
		r, err := transition.ParseRole(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("engine-roles: %w", err)
		}
		if r == transition.RoleInactive {
			return nil, fmt.Errorf("engine-roles: %s cannot run the engine", r)
		}
		roles = append(roles, r)
	}
	return roles, nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setStrings sets a list value if not empty and flag not changed.
func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = append([]string(nil), value...)
}

// setInt sets an int value from a pointer if not nil and flag not changed.
// Zero is a meaningful value for ids, so presence is what counts.
func (s *configSetter) setInt(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setInt64 sets an int64 value from a pointer if not nil and flag not changed.
func (s *configSetter) setInt64(flag string, value *int64, dst *int64) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}

// setInt64FromString parses a string to int64 and sets the destination if valid.
func (s *configSetter) setInt64FromString(flag, value string, dst *int64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}

// setStringsFromString splits a comma separated list.
func (s *configSetter) setStringsFromString(flag, value string, dst *[]string) {
	if value == "" || s.changed[flag] {
		return
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
