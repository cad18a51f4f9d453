// Package metaerr defines the failures surfaced by the metadata cache and the
// structural managers. Every error names the object it concerns and the
// operation that was attempted so the caller can render a message without
// digging through wrapped causes.
package metaerr

import (
	"errors"
	"fmt"
	"strings"
)

// Op names the operation that failed.
type Op string

const (
	OpFetch   Op = "fetch"
	OpRefresh Op = "refresh"
	OpCreate  Op = "create"
	OpAlter   Op = "alter"
	OpDrop    Op = "drop"
	OpResolve Op = "resolve"
)

// ConnectivityError means the session was unreachable or timed out.
type ConnectivityError struct {
	Object string
	Op     Op
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s %s: connection failed: %v", e.Op, e.Object, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// CancelledError means cancellation was observed at a suspension point.
type CancelledError struct {
	Object string
	Op     Op
	Err    error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s %s: cancelled", e.Op, e.Object)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// ValidationError is raised before any statement reaches the session.
type ValidationError struct {
	Object  string
	Op      Op
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s %s: invalid %s: %s", e.Op, e.Object, e.Field, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Object, e.Message)
}

// BuildError means DDL text could not be produced from the object state.
type BuildError struct {
	Object string
	Op     Op
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s %s: cannot build statement: %v", e.Op, e.Object, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// ExecutionError means the server rejected a statement. ServerMessage holds
// the diagnostic exactly as the server reported it.
type ExecutionError struct {
	Object        string
	Op            Op
	Statement     string
	Code          string
	ServerMessage string
	Detail        string
	Err           error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s failed: %s", e.Op, e.Object, e.ServerMessage)
	if e.Code != "" {
		fmt.Fprintf(&b, " (SQLSTATE %s)", e.Code)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// StaleObjectError is returned for any operation on a destroyed handle.
type StaleObjectError struct {
	Object string
	Op     Op
}

func (e *StaleObjectError) Error() string {
	return fmt.Sprintf("%s %s: object has been dropped", e.Op, e.Object)
}

// NotFoundError means a path element named no cached or introspected child.
type NotFoundError struct {
	Object string
	Op     Op
	Name   string
	Parent string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %q not found under %s", e.Op, e.Object, e.Name, e.Parent)
}

// UnsupportedError means the dialect has no manager for the requested
// (kind, operation) pair, or no introspection query for a kind.
type UnsupportedError struct {
	Dialect string
	Kind    string
	Op      Op
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: %s of %s is not supported", e.Dialect, e.Op, e.Kind)
}

// PartialFetchWarning is non-fatal: some rows were skipped during
// introspection. It is logged, never returned from a fetch.
type PartialFetchWarning struct {
	Object  string
	Kind    string
	Skipped int
	Reasons []string
}

func (w *PartialFetchWarning) Error() string {
	return fmt.Sprintf("fetch %s of %s: skipped %d row(s): %s", w.Kind, w.Object, w.Skipped, strings.Join(w.Reasons, "; "))
}

// Add records one skipped row.
func (w *PartialFetchWarning) Add(reason string) {
	w.Skipped++
	w.Reasons = append(w.Reasons, reason)
}

// IsStale reports whether err is a StaleObjectError.
func IsStale(err error) bool {
	var target *StaleObjectError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsCancelled reports whether err is a CancelledError.
func IsCancelled(err error) bool {
	var target *CancelledError
	return errors.As(err, &target)
}

// WithObject fills in identity and operation on errors produced below the
// layer that knows them (the session classifies without knowing the object).
func WithObject(err error, object string, op Op) error {
	if err == nil {
		return nil
	}
	var (
		conn   *ConnectivityError
		cancel *CancelledError
		exec   *ExecutionError
	)
	switch {
	case errors.As(err, &conn):
		c := *conn
		c.Object, c.Op = object, op
		return &c
	case errors.As(err, &cancel):
		c := *cancel
		c.Object, c.Op = object, op
		return &c
	case errors.As(err, &exec):
		c := *exec
		c.Object, c.Op = object, op
		return &c
	}
	return err
}
