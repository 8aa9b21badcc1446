package migration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrTransientSource        = errors.New("transient source error")
	ErrTerminalSource         = errors.New("terminal source error")
	ErrConstraintConflict     = errors.New("constraint conflict")
	ErrRollbackIncomplete     = errors.New("rollback incomplete")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrJobNotFound            = errors.New("migration job not found")
	ErrJobNotRunning          = errors.New("migration job is not running")
	ErrLockNotAcquired        = errors.New("job lock not acquired")
)

// ValidationError carries per-field messages for rejected start options.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid migration options: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type TransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot move from %s to %s", e.JobID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

type RollbackIncompleteError struct {
	JobID   string
	Deleted int64
	Cause   error
}

func (e *RollbackIncompleteError) Error() string {
	return fmt.Sprintf("rollback of job %s stopped after %d staged rows: %v", e.JobID, e.Deleted, e.Cause)
}

func (e *RollbackIncompleteError) Unwrap() error { return e.Cause }

func (e *RollbackIncompleteError) Is(target error) bool {
	return target == ErrRollbackIncomplete
}

// Transient marks err as retryable. Adapters use it for timeouts, rate
// limiting and upstream 5xx responses.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrTransientSource)
}

// Terminal marks err as fatal for the job: bad credentials, rejected
// requests, payloads that cannot be decoded.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrTerminalSource)
}

func IsTerminal(err error) bool {
	return errors.Is(err, ErrTerminalSource)
}
