package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrAlreadyResolved  = errors.New("conflict already resolved")
	ErrPrerequisite     = errors.New("phase prerequisite not met")
	ErrConflictingWrite = errors.New("conflicting concurrent write")
)

// PrerequisiteError reports how many studies block a phase advancement.
// It matches ErrPrerequisite under errors.Is.
type PrerequisiteError struct {
	BlockingCount int
	TargetPhase   string
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("cannot advance to %s: %d included studies have no PDF or source URL", e.TargetPhase, e.BlockingCount)
}

func (e *PrerequisiteError) Is(target error) bool {
	return target == ErrPrerequisite
}
