package ir

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind is the top-level category of an engine error.
type ErrorKind string

const (
	// KindSchema covers missing or duplicate relations and column type mismatches.
	KindSchema ErrorKind = "SchemaError"

	// KindStratification is an illegal cycle through negation or aggregation.
	KindStratification ErrorKind = "StratificationError"

	// KindEvaluation is a runtime type or arithmetic failure inside a rule body.
	KindEvaluation ErrorKind = "EvaluationError"

	// KindConflict is an optimistic write conflict. It is the only retryable kind.
	KindConflict ErrorKind = "ConflictError"

	// KindIO is a storage, backup, restore or compaction failure.
	KindIO ErrorKind = "IOError"
)

// ErrorCode narrows an ErrorKind to a specific condition.
type ErrorCode string

const (
	CodeRelationExists   ErrorCode = "RELATION_EXISTS"
	CodeRelationNotFound ErrorCode = "RELATION_NOT_FOUND"
	CodeColumnNotFound   ErrorCode = "COLUMN_NOT_FOUND"
	CodeInvalidSchema    ErrorCode = "INVALID_SCHEMA"
	CodeInvalidType      ErrorCode = "INVALID_TYPE"
	CodeTypeMismatch     ErrorCode = "TYPE_MISMATCH"
	CodeArityMismatch    ErrorCode = "ARITY_MISMATCH"
	CodeUnsafeVariable   ErrorCode = "UNSAFE_VARIABLE"
	CodeInvalidProgram   ErrorCode = "INVALID_PROGRAM"

	CodeIllegalCycle ErrorCode = "ILLEGAL_CYCLE"

	CodeNullOperand     ErrorCode = "NULL_OPERAND"
	CodeOperandType     ErrorCode = "OPERAND_TYPE"
	CodeDivisionByZero  ErrorCode = "DIVISION_BY_ZERO"
	CodeNotBoolean      ErrorCode = "NOT_BOOLEAN"
	CodeMissingParam    ErrorCode = "MISSING_PARAMETER"
	CodeRoundLimit      ErrorCode = "ROUND_LIMIT"
	CodeNonNumericInput ErrorCode = "NON_NUMERIC_INPUT"
	CodeIntegerOverflow ErrorCode = "INTEGER_OVERFLOW"

	CodeWriteConflict    ErrorCode = "WRITE_CONFLICT"
	CodeRelationReplaced ErrorCode = "RELATION_REPLACED"

	CodeStorage ErrorCode = "STORAGE"
	CodeBackup  ErrorCode = "BACKUP"
	CodeRestore ErrorCode = "RESTORE"
	CodeCompact ErrorCode = "COMPACT"
)

// Error is the structured error returned by every public entry point.
//
// Kind selects the taxonomy bucket; Code narrows it. Err holds the
// underlying cause (for IOError it is the storage error, unmodified).
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Code identifies the specific condition.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Relation names the relation involved, if any.
	Relation string

	// Details contains additional context.
	Details map[string]string

	// Err is the wrapped cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]: %s", e.Kind, e.Code, e.Message)
	if e.Relation != "" {
		fmt.Fprintf(&b, " (relation=%s)", e.Relation)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, e.Details[k])
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithRelation sets the relation name and returns e.
func (e *Error) WithRelation(name string) *Error {
	e.Relation = name
	return e
}

// WithDetail adds one detail entry and returns e.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// NewSchemaError creates a SchemaError.
func NewSchemaError(code ErrorCode, msg string) *Error {
	return &Error{Kind: KindSchema, Code: code, Message: msg}
}

// NewStratificationError creates a StratificationError for the given cycle.
func NewStratificationError(msg string, cycle []string) *Error {
	e := &Error{Kind: KindStratification, Code: CodeIllegalCycle, Message: msg}
	if len(cycle) > 0 {
		e.WithDetail("cycle", strings.Join(cycle, " -> "))
	}
	return e
}

// NewEvaluationError creates an EvaluationError.
func NewEvaluationError(code ErrorCode, msg string) *Error {
	return &Error{Kind: KindEvaluation, Code: code, Message: msg}
}

// NewConflictError creates a ConflictError for a write to relation that lost
// against a commit newer than the writer's snapshot.
func NewConflictError(relation string, key Tuple, base, committed int64) *Error {
	return &Error{
		Kind:     KindConflict,
		Code:     CodeWriteConflict,
		Message:  fmt.Sprintf("key %s was written at epoch %d after snapshot %d", key, committed, base),
		Relation: relation,
		Details: map[string]string{
			"snapshot_epoch":  fmt.Sprintf("%d", base),
			"committed_epoch": fmt.Sprintf("%d", committed),
		},
	}
}

// NewRelationReplacedError creates a ConflictError for a write to a
// relation that was dropped, re-created or restored after the writer's
// snapshot.
func NewRelationReplacedError(relation string, base int64) *Error {
	return &Error{
		Kind:     KindConflict,
		Code:     CodeRelationReplaced,
		Message:  fmt.Sprintf("relation was replaced after snapshot %d", base),
		Relation: relation,
		Details: map[string]string{
			"snapshot_epoch": fmt.Sprintf("%d", base),
		},
	}
}

// NewIOError wraps a storage error. The cause is kept unmodified.
func NewIOError(code ErrorCode, msg string, err error) *Error {
	return &Error{Kind: KindIO, Code: code, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsSchemaError returns true if err is a SchemaError.
// Uses errors.As to handle wrapped errors.
func IsSchemaError(err error) bool { return KindOf(err) == KindSchema }

// IsStratificationError returns true if err is a StratificationError.
func IsStratificationError(err error) bool { return KindOf(err) == KindStratification }

// IsEvaluationError returns true if err is an EvaluationError.
func IsEvaluationError(err error) bool { return KindOf(err) == KindEvaluation }

// IsConflictError returns true if err is a ConflictError.
func IsConflictError(err error) bool { return KindOf(err) == KindConflict }

// IsIOError returns true if err is an IOError.
func IsIOError(err error) bool { return KindOf(err) == KindIO }

// IsRetryable reports whether a caller may retry the failed operation
// unchanged. Only ConflictError qualifies; every other kind fails the same
// way on retry.
func IsRetryable(err error) bool {
	return IsConflictError(err)
}
