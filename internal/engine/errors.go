package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotValidated rejects freezing a contract that was never validated.
	ErrNotValidated = errors.New("intent contract must be validated before freezing")
	// ErrContractImmutable rejects mutating a contract past its draft state.
	ErrContractImmutable = errors.New("intent contract is no longer mutable")
	// ErrIntentNotFrozen rejects creating a loop against an unfrozen contract.
	ErrIntentNotFrozen = errors.New("intent contract must be frozen")
	// ErrLoopTerminated rejects writes against a completed, cancelled or failed loop.
	ErrLoopTerminated = errors.New("execution loop is in a terminal state")
)

// IncompleteContractError lists every required field still missing at validation.
type IncompleteContractError struct {
	Missing []string
}

func (e IncompleteContractError) Error() string {
	return "intent contract incomplete: missing " + strings.Join(e.Missing, ", ")
}

// InvalidTransitionError reports an illegal state change together with the
// actual current status so the caller can reconcile.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}
