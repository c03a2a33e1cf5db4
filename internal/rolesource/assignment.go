package rolesource

import (
	"bytes"
	"errors"
	"fmt"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/roleshift/pkg/transition"
)

// Assignment is the role a replication layer assigned for a term.
//
//	term = 3
//	role = "leader"
type Assignment struct {
	Term int64
	Role transition.Role
}

func (a Assignment) String() string {
	return fmt.Sprintf("%s@%d", a.Role, a.Term)
}

type assignmentFile struct {
	Term *int64  `toml:"term"`
	Role *string `toml:"role"`
}

// Parse decodes a role file. Both keys are required and unknown keys are
// rejected.
func Parse(data []byte) (Assignment, error) {
	var f assignmentFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return Assignment{}, fmt.Errorf("decode role file: %w", err)
	}
	if f.Term == nil {
		return Assignment{}, errors.New("role file: term is required")
	}
	if *f.Term < 0 {
		return Assignment{}, fmt.Errorf("role file: term must not be negative, got %d", *f.Term)
	}
	if f.Role == nil {
		return Assignment{}, errors.New("role file: role is required")
	}
	role, err := transition.ParseRole(*f.Role)
	if err != nil {
		return Assignment{}, fmt.Errorf("role file: %w", err)
	}
	return Assignment{Term: *f.Term, Role: role}, nil
}
