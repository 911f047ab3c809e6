package errors

import (
	"fmt"
)

type TableAlreadyExistsError struct {
	Name string
}

func (e *TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("table %q already exists", e.Name)
}

type TableNotFoundError struct {
	Name string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q not found", e.Name)
}

type TwoPrimarykeysError struct {
	Total int
}

func (e *TwoPrimarykeysError) Error() string {
	return fmt.Sprintf("You have defined a total of %q primary keys. Only one primary key is allowed.", e.Total)
}

type PrimarykeyNotDefinedError struct {
	TableName string
}

func (e *PrimarykeyNotDefinedError) Error() string {
	return fmt.Sprintf("Primary key not defined. Table name: %q", e.TableName)
}

type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key violation: key %q already exists in unique index", e.Key)
}

type IndexNotFoundError struct {
	Name string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index %q not found", e.Name)
}

type InvalidKeyTypeError struct {
	Name     string
	TypeName string
}

func (e *InvalidKeyTypeError) Error() string {
	return fmt.Sprintf("invalid key type for index %q: %s", e.Name, e.TypeName)
}

// DeadlockError is returned by the lock manager when a wait-for cycle is
// detected. The caller must abort the named transaction.
type DeadlockError struct {
	TxnID string
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("deadlock detected, transaction %q must abort", e.TxnID)
}

// LockTimeoutError is returned when a lock wait exceeds its deadline.
type LockTimeoutError struct {
	Hash      uint32
	TimeoutMs int32
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock timeout on hash %d after %dms", e.Hash, e.TimeoutMs)
}

// ConditionalLockTimeoutError is returned for a non-waiting (timeoutMs==0)
// acquire that could not be granted immediately. The caller's lock entry is
// left in the queue so the caller can retry after releasing its page latch.
type ConditionalLockTimeoutError struct {
	Hash uint32
}

func (e *ConditionalLockTimeoutError) Error() string {
	return fmt.Sprintf("conditional lock on hash %d not immediately grantable", e.Hash)
}

// OutOfLogSpaceError is returned when a reservation would drop available log
// space below the amount reserved for checkpoints.
type OutOfLogSpaceError struct {
	Requested int64
	Available int64
}

func (e *OutOfLogSpaceError) Error() string {
	return fmt.Sprintf("out of log space: requested %d bytes, %d available", e.Requested, e.Available)
}

// BadCompensationError covers the three ways a compensate() call can be
// rejected: the target record is already durable, already an undoable CLR,
// or could not be located in the live buffer.
type BadCompensationError struct {
	Reason string
}

func (e *BadCompensationError) Error() string {
	return fmt.Sprintf("bad compensation request: %s", e.Reason)
}

// InternalError marks an invariant violation or unexpected OS error. It is
// fatal: callers should log diagnostic state and abort rather than retry.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Reason)
}
