// This package manages the low-level, on-disk storage structures of an NTFS
// volume: the Master File Table, its attributes, data runs, compressed
// streams, index B+trees, and the shared security-descriptor store.

package ntfs

import (
	"fmt"

	"github.com/dsoprea/go-logging"
)

// ErrorKind enumerates the taxonomy of failures this package can return.
type ErrorKind int

const (
	// ErrInvalidSignature indicates a boot/MFT/index signature mismatch.
	ErrInvalidSignature ErrorKind = iota

	// ErrInvalidRecord indicates a structural field out of bounds or an
	// impossible size.
	ErrInvalidRecord

	// ErrTornWrite indicates a multi-sector update-sequence mismatch.
	ErrTornWrite

	// ErrOutOfBounds indicates the caller asked for an index/VCN beyond the
	// attribute.
	ErrOutOfBounds

	// ErrUnsupported indicates encrypted $DATA, an unknown compression
	// method, or an unknown collation rule.
	ErrUnsupported

	// ErrStaleReference indicates a sequence-number mismatch between an
	// expected and an on-disk file reference.
	ErrStaleReference

	// ErrCorruptIndex indicates a recursion-cap violation, a node-size
	// inconsistency, or a bitmap disagreement.
	ErrCorruptIndex

	// ErrDecompressionFailed indicates LZNT1 or LZXPRESS-Huffman rejected
	// its input.
	ErrDecompressionFailed

	// ErrIo indicates a block-reader failure.
	ErrIo

	// ErrCancelled indicates a cooperative abort was observed.
	ErrCancelled

	// ErrNotFound indicates a logical absence: a child name, a path
	// component, or a security id.
	ErrNotFound
)

// String returns a descriptive name for the error kind.
func (ek ErrorKind) String() string {
	switch ek {
	case ErrInvalidSignature:
		return "InvalidSignature"
	case ErrInvalidRecord:
		return "InvalidRecord"
	case ErrTornWrite:
		return "TornWrite"
	case ErrOutOfBounds:
		return "OutOfBounds"
	case ErrUnsupported:
		return "Unsupported"
	case ErrStaleReference:
		return "StaleReference"
	case ErrCorruptIndex:
		return "CorruptIndex"
	case ErrDecompressionFailed:
		return "DecompressionFailed"
	case ErrIo:
		return "Io"
	case ErrCancelled:
		return "Cancelled"
	case ErrNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Error is the typed error returned from every exported operation in this
// package. It carries a taxonomy kind alongside the go-logging-wrapped
// underlying error so that callers can both switch on `Kind` and print
// the full panic/wrap chain with `log.PrintError`.
type Error struct {
	Kind    ErrorKind
	Message string
	Wrapped error
}

// Error satisfies the standard `error` interface.
func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped error for `errors.Is`/`errors.As`.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// wrapf builds and panics with a kind-tagged *Error: callers further up
// the stack recover and, via `log.Wrap`, preserve the original panic/call
// stack.
func wrapf(kind ErrorKind, wrapped error, format string, args ...interface{}) {
	e := &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Wrapped: wrapped,
	}

	panic(log.Wrap(e))
}

// panicKind panics with a kind-tagged *Error carrying no underlying error,
// for pure invariant violations (bad sizes, bad signatures) discovered
// in-package.
func panicKind(kind ErrorKind, format string, args ...interface{}) {
	wrapf(kind, nil, format, args...)
}

// recoverAsError is installed as a `defer recover()` at the top of the
// package's main exported entry points (Open, OpenVolume, OpenMft,
// OpenIndexEngine, IndexEngine.Find, ...); exported parsing helpers such
// as ParseFileName and accessors such as MftAttribute.ResidentData do not
// install it and panic on malformed input. It is the recover side of the
// package's usual pattern:
//
//	defer func() {
//	    if errRaw := recover(); errRaw != nil {
//	        if err, ok = errRaw.(error); ok {
//	            err = log.Wrap(err)
//	        } else {
//	            err = log.Errorf("Error not an error: ...")
//	        }
//	    }
//	}()
func recoverAsError(err *error) {
	errRaw := recover()
	if errRaw == nil {
		return
	}

	if asErr, ok := errRaw.(error); ok == true {
		*err = log.Wrap(asErr)
		return
	}

	*err = log.Errorf("panic value was not an error: %v", errRaw)
}

// KindOf extracts the ErrorKind from an error returned by this package, or
// ErrInvalidRecord if the error did not originate here (keeps callers from
// having to special-case foreign errors while still defaulting to a
// reasonably conservative kind).
func KindOf(err error) ErrorKind {
	for current := err; current != nil; {
		if ne, ok := current.(*Error); ok == true {
			return ne.Kind
		}

		type unwrapper interface {
			Unwrap() error
		}

		u, ok := current.(unwrapper)
		if ok == false {
			break
		}

		current = u.Unwrap()
	}

	return ErrInvalidRecord
}
