package ir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindsSurviveWrapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"schema", NewSchemaError(CodeRelationExists, "exists"), IsSchemaError},
		{"stratification", NewStratificationError("cycle", []string{"a", "b", "a"}), IsStratificationError},
		{"evaluation", NewEvaluationError(CodeDivisionByZero, "div"), IsEvaluationError},
		{"conflict", NewConflictError("friends", Tuple{Int(1)}, 3, 4), IsConflictError},
		{"io", NewIOError(CodeBackup, "backup failed", errors.New("disk full")), IsIOError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", tt.err))
			assert.True(t, tt.check(wrapped))
		})
	}
}

func TestOnlyConflictIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("put: %w", NewConflictError("r", Tuple{Int(1)}, 1, 2))))
	assert.False(t, IsRetryable(NewSchemaError(CodeRelationNotFound, "missing")))
	assert.False(t, IsRetryable(NewEvaluationError(CodeNullOperand, "null")))
	assert.False(t, IsRetryable(NewIOError(CodeStorage, "io", errors.New("x"))))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestIOErrorKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := NewIOError(CodeBackup, "backup failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestErrorFormatting(t *testing.T) {
	err := NewStratificationError("negation inside recursion", []string{"p", "q", "p"})
	assert.Equal(t, "StratificationError [ILLEGAL_CYCLE]: negation inside recursion cycle=p -> q -> p", err.Error())

	se := NewSchemaError(CodeRelationNotFound, "no such relation").WithRelation("user")
	assert.Equal(t, "SchemaError [RELATION_NOT_FOUND]: no such relation (relation=user)", se.Error())
}

func TestCodeOfAndKindOf(t *testing.T) {
	err := fmt.Errorf("x: %w", NewEvaluationError(CodeRoundLimit, "too many rounds"))
	assert.Equal(t, KindEvaluation, KindOf(err))
	assert.Equal(t, CodeRoundLimit, CodeOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}
