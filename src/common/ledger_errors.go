package common

import (
	"fmt"
)

// LedgerErrKind classifies the failures of the ledger engine.
type LedgerErrKind uint32

const (
	// InvalidTransaction is a hash mismatch or a kind-specific violation. The
	// transaction is rejected locally and never propagated.
	InvalidTransaction LedgerErrKind = iota
	// InvalidBlock is a hash, link, timestamp or signature failure.
	InvalidBlock
	// InvalidChain means one link of a candidate replacement chain failed. The
	// whole candidate is discarded.
	InvalidChain
	// GenesisMismatch is fatal: the node refuses to start on a foreign store.
	GenesisMismatch
	// NetworkTimeout is non-fatal: a discovery or sync step was abandoned.
	NetworkTimeout
	// StoreUnavailable is fatal at startup.
	StoreUnavailable
	// NotReady is returned by mutations attempted before the ledger is loaded.
	NotReady
)

// String ...
func (k LedgerErrKind) String() string {
	switch k {
	case InvalidTransaction:
		return "InvalidTransaction"
	case InvalidBlock:
		return "InvalidBlock"
	case InvalidChain:
		return "InvalidChain"
	case GenesisMismatch:
		return "GenesisMismatch"
	case NetworkTimeout:
		return "NetworkTimeout"
	case StoreUnavailable:
		return "StoreUnavailable"
	case NotReady:
		return "NotReady"
	default:
		return "Unknown"
	}
}

// LedgerErr is the error type of the ledger engine. The reason is meant for
// humans and is returned as-is to API callers.
type LedgerErr struct {
	kind   LedgerErrKind
	reason string
	err    error
}

// NewLedgerErr ...
func NewLedgerErr(kind LedgerErrKind, reason string) LedgerErr {
	return LedgerErr{
		kind:   kind,
		reason: reason,
	}
}

// NewLedgerErrf ...
func NewLedgerErrf(kind LedgerErrKind, format string, args ...interface{}) LedgerErr {
	return NewLedgerErr(kind, fmt.Sprintf(format, args...))
}

// WrapLedgerErr attaches a kind and a reason to an underlying error.
func WrapLedgerErr(kind LedgerErrKind, err error, reason string) LedgerErr {
	return LedgerErr{
		kind:   kind,
		reason: reason,
		err:    err,
	}
}

// Kind ...
func (e LedgerErr) Kind() LedgerErrKind {
	return e.kind
}

// Reason ...
func (e LedgerErr) Reason() string {
	return e.reason
}

// Unwrap returns the underlying error, if any.
func (e LedgerErr) Unwrap() error {
	return e.err
}

// Error ...
func (e LedgerErr) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.reason, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.reason)
}

type causer interface {
	Cause() error
}

type unwrapper interface {
	Unwrap() error
}

// IsLedger reports whether err, or any error it wraps, is a LedgerErr of the
// given kind. Both github.com/pkg/errors wrapping and Unwrap chains are
// followed.
func IsLedger(err error, kind LedgerErrKind) bool {
	for err != nil {
		if le, ok := err.(LedgerErr); ok {
			if le.kind == kind {
				return true
			}
			err = le.err
			continue
		}
		switch e := err.(type) {
		case causer:
			err = e.Cause()
		case unwrapper:
			err = e.Unwrap()
		default:
			return false
		}
	}
	return false
}
