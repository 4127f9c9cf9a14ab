package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	err := NewDomainError(ErrCodeValidation, "title is required")
	assert.Equal(t, "[VALIDATION_ERROR] title is required", err.Error())

	wrapped := NewStoreError("insert failed", errors.New("connection refused"))
	assert.Equal(t, "[STORE_ERROR] insert failed: connection refused", wrapped.Error())
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreError("insert failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeExtraction, ErrorCode(NewExtractionError("bad bytes", nil)))
	assert.Equal(t, ErrCodeChunking, ErrorCode(NewChunkingError("nothing to chunk")))
	assert.Equal(t, "", ErrorCode(errors.New("plain error")))
	assert.Equal(t, "", ErrorCode(nil))
}

func TestErrorCode_WalksWrappedChain(t *testing.T) {
	inner := NewProviderTransientError("rate limited", nil)
	wrapped := fmt.Errorf("embedding batch 3: %w", inner)
	doubleWrapped := fmt.Errorf("pipeline: %w", wrapped)

	assert.Equal(t, ErrCodeProviderTransient, ErrorCode(doubleWrapped))
}

func TestErrorCode_OutermostCodeWins(t *testing.T) {
	inner := NewProviderFatalError("invalid key", nil)
	outer := NewStoreError("persist failed", inner)

	assert.Equal(t, ErrCodeStore, ErrorCode(outer))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(NewProviderTransientError("rate limited", nil)))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", NewProviderTransientError("timeout", nil))))
	assert.False(t, IsTransient(NewProviderFatalError("invalid key", nil)))
	assert.False(t, IsTransient(errors.New("plain error")))
	assert.False(t, IsTransient(nil))
}

func TestSentinelCodes(t *testing.T) {
	assert.Equal(t, ErrCodeValidation, ErrorCode(ErrInvalidSourceType))
	assert.Equal(t, ErrCodeValidation, ErrorCode(ErrMissingRequiredField))
	assert.Equal(t, ErrCodeValidation, ErrorCode(ErrInvalidDocumentStatus))
	assert.Equal(t, ErrCodeNotFound, ErrorCode(ErrDocumentNotFound))
	assert.Equal(t, ErrCodeInvalidOperation, ErrorCode(ErrIllegalTransition))
	assert.Equal(t, ErrCodeInvalidOperation, ErrorCode(ErrAlreadyClaimed))
}
