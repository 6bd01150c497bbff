package domain

import (
	"errors"
	"fmt"
)

// ErrCancelled is wrapped by a CollectionError when the run was cancelled or
// timed out while collecting.
var ErrCancelled = errors.New("audit run cancelled")

// ConfigurationError is fatal: an operator has to fix something (rule set,
// credentials, scope) before the run can succeed.
type ConfigurationError struct {
	Op  string
	Err error
}

func NewConfigurationError(op string, err error) *ConfigurationError {
	return &ConfigurationError{Op: op, Err: err}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

type CollectionReason string

const (
	// ReasonTransient covers network and API failures worth retrying.
	ReasonTransient CollectionReason = "transient"
	ReasonCancelled CollectionReason = "cancelled"
	// ReasonInvalid means the source returned data that breaks the identity contract.
	ReasonInvalid CollectionReason = "invalid"
)

type CollectionError struct {
	Source string
	Reason CollectionReason
	Err    error
}

func NewCollectionError(source string, err error) *CollectionError {
	return &CollectionError{Source: source, Reason: ReasonTransient, Err: err}
}

func NewCancelledError(source string, cause error) *CollectionError {
	return &CollectionError{Source: source, Reason: ReasonCancelled, Err: errors.Join(ErrCancelled, cause)}
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collection error (%s) from %s: %v", e.Reason, e.Source, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

func (e *CollectionError) Retryable() bool {
	return e.Reason == ReasonTransient
}

// RuleExecutionError never leaves the rule engine; it is turned into a finding.
type RuleExecutionError struct {
	Rule       string
	IdentityID string
	Err        error
}

func (e *RuleExecutionError) Error() string {
	return fmt.Sprintf("rule %s failed on identity %s: %v", e.Rule, e.IdentityID, e.Err)
}

func (e *RuleExecutionError) Unwrap() error { return e.Err }

func IsConfiguration(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

func IsRetryable(err error) bool {
	var colErr *CollectionError
	return errors.As(err, &colErr) && colErr.Retryable()
}

func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
