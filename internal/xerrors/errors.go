// Package xerrors is the single canonical error taxonomy for the sequencing
// node core. Handlers return a *Error; the RPC layer serializes its Kind and
// Message as a JSON-RPC error. It replaces the two coexisting error modules
// the Design Notes flag in the original sources.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind is the abstract error category from spec.md §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindSyscall
	KindConfig
	KindLogger
	KindKeyNotFound
	KindSerializationFailed
	KindTransactionConflict
	KindSignature
	KindUnsupportedPlatform
	KindUnsupportedValidationServiceProvider
	KindUnsupportedRollupType
	KindUnsupportedOrderCommitmentType
	KindUnsupportedEncryptedMempool
	KindClusterNotFound
	KindExecutorAddressNotFound
	KindEmptyLeader
	KindEmptyLeaderClusterRpcUrl
	KindInvalidPlatformBlockHeight
	KindBlockHeightMismatch
	KindGasLimitExceeded
	KindLivenessClient
	KindValidationClient
	KindSeeder
	KindDistributedKeyGeneration
	KindPlainDataDoesNotExist
	KindUnimplemented
	KindAuditSink
)

func (k Kind) String() string {
	switch k {
	case KindSyscall:
		return "Syscall"
	case KindConfig:
		return "Config"
	case KindLogger:
		return "Logger"
	case KindKeyNotFound:
		return "KeyNotFound"
	case KindSerializationFailed:
		return "SerializationFailed"
	case KindTransactionConflict:
		return "TransactionConflict"
	case KindSignature:
		return "Signature"
	case KindUnsupportedPlatform:
		return "UnsupportedPlatform"
	case KindUnsupportedValidationServiceProvider:
		return "UnsupportedValidationServiceProvider"
	case KindUnsupportedRollupType:
		return "UnsupportedRollupType"
	case KindUnsupportedOrderCommitmentType:
		return "UnsupportedOrderCommitmentType"
	case KindUnsupportedEncryptedMempool:
		return "UnsupportedEncryptedMempool"
	case KindClusterNotFound:
		return "ClusterNotFound"
	case KindExecutorAddressNotFound:
		return "ExecutorAddressNotFound"
	case KindEmptyLeader:
		return "EmptyLeader"
	case KindEmptyLeaderClusterRpcUrl:
		return "EmptyLeaderClusterRpcUrl"
	case KindInvalidPlatformBlockHeight:
		return "InvalidPlatformBlockHeight"
	case KindBlockHeightMismatch:
		return "BlockHeightMismatch"
	case KindGasLimitExceeded:
		return "GasLimitExceeded"
	case KindLivenessClient:
		return "LivenessClient"
	case KindValidationClient:
		return "ValidationClient"
	case KindSeeder:
		return "Seeder"
	case KindDistributedKeyGeneration:
		return "DistributedKeyGeneration"
	case KindPlainDataDoesNotExist:
		return "PlainDataDoesNotExist"
	case KindUnimplemented:
		return "Unimplemented"
	case KindAuditSink:
		return "AuditSink"
	default:
		return "Unknown"
	}
}

// Error is the concrete error value every package in this module returns.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "ordering.SendRawTransaction"
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap builds an *Error around an existing error.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ErrKeyNotFound is the sentinel the typed store returns for an absent row;
// distinguished from other Database errors per §9's "exceptions-as-control-flow"
// re-architecture note — callers test for it explicitly instead of catching
// a generic failure.
var ErrKeyNotFound = New(KindKeyNotFound, "kvstore", "key not found")
