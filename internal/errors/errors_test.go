package errors_test

import (
	"fmt"
	"testing"

	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapf(t *testing.T) {
	require.NoError(t, apperrors.Wrapf(nil, "ignored"))

	err := apperrors.Wrapf(apperrors.ErrStore, "hash get %s", "session:1")
	require.EqualError(t, err, "hash get session:1: store failure")
	require.True(t, apperrors.Is(err, apperrors.ErrStore))
}

func TestClassify(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := apperrors.Classify(apperrors.ErrStore, cause)

	require.True(t, apperrors.Is(err, apperrors.ErrStore))
	require.True(t, apperrors.Is(err, cause))
	require.False(t, apperrors.Is(err, apperrors.ErrRefresh))
	require.NoError(t, apperrors.Classify(apperrors.ErrStore, nil))
}
