package exporter

import (
	"errors"
	"fmt"
)

// Kind classifies an export failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindArgument
	KindDataSource
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindArgument:
		return "argument error"
	case KindDataSource:
		return "data-source error"
	case KindSerialization:
		return "serialization error"
	default:
		return "error"
	}
}

// Error is a classified export failure.
type Error struct {
	Kind Kind
	Op   string // e.g. "calls 2024-01-19"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ArgumentError reports a missing or unusable command-line argument.
func ArgumentError(format string, args ...any) error {
	return &Error{Kind: KindArgument, Err: fmt.Errorf(format, args...)}
}

func dataSourceError(op string, err error) error {
	return &Error{Kind: KindDataSource, Op: op, Err: err}
}

func serializationError(err error) error {
	return &Error{Kind: KindSerialization, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Exit codes per error kind.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitArgument      = 2
	ExitDataSource    = 3
	ExitSerialization = 4
)

// ExitCode maps err to a process exit status. nil is success.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindArgument:
		return ExitArgument
	case KindDataSource:
		return ExitDataSource
	case KindSerialization:
		return ExitSerialization
	default:
		return ExitFailure
	}
}
