package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCode(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := ErrFetchFailed.Wrap(cause)

	require.Equal(t, ErrFetchFailed.Code, err.Code)
	require.Contains(t, err.Msg, "connection refused")
	require.ErrorIs(t, err, ErrFetchFailed)
}

func TestWrapNilReturnsBase(t *testing.T) {
	require.Equal(t, ErrSendFailed, ErrSendFailed.Wrap(nil))
}

func TestIsMatchesByCode(t *testing.T) {
	wrapped := ErrSessionExpired.Wrap(errors.New("exp claim in the past"))
	require.ErrorIs(t, wrapped, ErrSessionExpired)
	require.NotErrorIs(t, wrapped, ErrUnauthorized)
}

func TestRetryable(t *testing.T) {
	retryable := []*Error{
		ErrNotConnected, ErrConnClosed, ErrRetriesExhausted,
		ErrFetchFailed, ErrConversationsStale, ErrThreadLoadFailed,
		ErrSendFailed, ErrMutationFailed,
	}
	for _, e := range retryable {
		require.True(t, e.Retryable(), "code %d should be retryable", e.Code)
	}

	terminal := []*Error{
		ErrInvalidParam, ErrUnauthorized, ErrSessionExpired,
		ErrMalformedPayload, ErrUnknownEvent, ErrAdminReadOnly,
		ErrDeleteFailed, ErrMarkReadFailed,
	}
	for _, e := range terminal {
		require.False(t, e.Retryable(), "code %d should not be retryable", e.Code)
	}
}
