package partition

import (
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/roleshift/pkg/engine"
	"github.com/bft-labs/roleshift/pkg/transition"
)

// Config holds the settings of one partition.
type Config struct {
	// PartitionID identifies the partition in logs, health and state files.
	PartitionID int

	// DataDir holds the durable log. Ignored when InMemory is set.
	DataDir string

	// InMemory keeps the log in memory, for tests and demos.
	InMemory bool

	// StateDir holds the committed-state file.
	StateDir string

	// EngineRoles are the roles that run the processing engine.
	// Default: leader only.
	EngineRoles []transition.Role

	// PollInterval is how often an idle engine checks the log for records.
	PollInterval time.Duration

	// ShutdownTimeout bounds the final transition and worker drain in Stop.
	ShutdownTimeout time.Duration

	// RetainRecords is how many processed records are kept behind the engine
	// checkpoint. Default: 10000
	RetainRecords uint64

	// RetentionInterval is how often processed records are pruned.
	// Default: 1 minute
	RetentionInterval time.Duration

	// DisableRetention keeps every record.
	DisableRetention bool
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if len(c.EngineRoles) == 0 {
		c.EngineRoles = []transition.Role{transition.RoleLeader}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = engine.DefaultPollInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.RetainRecords == 0 {
		c.RetainRecords = DefaultRetainRecords
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = DefaultRetentionInterval
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PartitionID < 0 {
		return fmt.Errorf("partition id must not be negative, got %d", c.PartitionID)
	}
	if c.DataDir == "" && !c.InMemory {
		return errors.New("data dir is required unless the log is in memory")
	}
	if c.StateDir == "" {
		return errors.New("state dir is required")
	}
	for _, r := range c.EngineRoles {
		if r == transition.RoleInactive {
			return errors.New("engine roles must not include inactive")
		}
	}
	return nil
}
