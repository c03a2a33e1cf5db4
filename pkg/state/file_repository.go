package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// ErrPartitionMismatch is returned when a state file belongs to another partition.
var ErrPartitionMismatch = errors.New("roleshift: state file belongs to another partition")

// FileRepository implements Repository with one JSON file per partition.
type FileRepository struct {
	dir         string
	partitionID int
}

// NewFileRepository creates a FileRepository for partitionID under dir.
func NewFileRepository(dir string, partitionID int) *FileRepository {
	return &FileRepository{dir: dir, partitionID: partitionID}
}

// Load retrieves the last saved state from disk.
// Returns an empty state and nil error if no state file exists.
func (r *FileRepository) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	data, err := os.ReadFile(r.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{PartitionID: r.partitionID}, nil
		}
		return State{}, fmt.Errorf("read state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode state %s: %w", r.Path(), err)
	}
	if st.PartitionID != r.partitionID {
		return State{}, fmt.Errorf("%w: %s has partition %d, want %d",
			ErrPartitionMismatch, r.Path(), st.PartitionID, r.partitionID)
	}
	return st, nil
}

// Save persists the state with an fsync and atomic rename.
func (r *FileRepository) Save(ctx context.Context, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	st.PartitionID = r.partitionID

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	pending, err := renameio.NewPendingFile(r.Path(), renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending state file: %w", err)
	}
	defer pending.Cleanup() //nolint:errcheck

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Path returns the full path to the state file.
func (r *FileRepository) Path() string {
	return filepath.Join(r.dir, fmt.Sprintf("partition-%d.json", r.partitionID))
}
