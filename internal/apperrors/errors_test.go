package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Storage(cause, "insert match attempt")

	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsCategory(err, CategoryStorage))
	assert.Equal(t, CodeStorageFailure, CodeOf(err))
	assert.Equal(t, "insert match attempt: connection reset", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CategoryStorage, CodeStorageFailure, "noop"))
}

func TestIsMatchesCategoryAndCode(t *testing.T) {
	sentinel := New(CategoryConflict, CodePaymentNotPending, "payment no longer pending")
	err := fmt.Errorf("approve: %w", New(CategoryConflict, CodePaymentNotPending, "other text"))

	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, New(CategoryConflict, CodeInvalidTransition, "")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation(CodeInvalidInput, "bad"), http.StatusBadRequest},
		{NotFound("payment", "x"), http.StatusNotFound},
		{New(CategoryConflict, CodePaymentNotPending, "x"), http.StatusConflict},
		{Storage(errors.New("x"), "op"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestContext(t *testing.T) {
	err := NotFound("payment", "abc")
	assert.Equal(t, "abc", err.Context["id"])
	assert.NotEmpty(t, err.StackTrace())
}
