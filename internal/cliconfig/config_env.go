package cliconfig

import "os"

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "ROLESHIFT_"

// ApplyEnvConfig applies ROLESHIFT_* environment variables to cfg.
// Values override the config file but never an explicitly set flag.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	env := func(key string) string { return os.Getenv(EnvPrefix + key) }

	if err := s.setIntFromString("partition-id", env("PARTITION_ID"), &cfg.PartitionID); err != nil {
		return err
	}
	s.setString("data-dir", env("DATA_DIR"), &cfg.DataDir)
	s.setString("state-dir", env("STATE_DIR"), &cfg.StateDir)
	s.setBoolFromString("in-memory", env("IN_MEMORY"), &cfg.InMemory)
	s.setString("role-file", env("ROLE_FILE"), &cfg.RoleFile)
	s.setString("listen", env("LISTEN_ADDR"), &cfg.ListenAddr)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setStringsFromString("engine-roles", env("ENGINE_ROLES"), &cfg.EngineRoles)
	s.setString("initial-role", env("INITIAL_ROLE"), &cfg.InitialRole)
	if err := s.setInt64FromString("initial-term", env("INITIAL_TERM"), &cfg.InitialTerm); err != nil {
		return err
	}

	if err := s.setDuration("poll", env("POLL_INTERVAL"), &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", env("SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setDuration("request-timeout", env("REQUEST_TIMEOUT"), &cfg.RequestTimeout); err != nil {
		return err
	}
	if err := s.setIntFromString("retain-records", env("RETAIN_RECORDS"), &cfg.RetainRecords); err != nil {
		return err
	}
	if err := s.setDuration("retention-interval", env("RETENTION_INTERVAL"), &cfg.RetentionInterval); err != nil {
		return err
	}
	return nil
}
