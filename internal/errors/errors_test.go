package errors_test

import (
	"context"
	"testing"

	ierrors "github.com/jrsteele09/go-clinic-session/internal/errors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestMark(t *testing.T) {
	err := errors.Wrap(ierrors.Mark(context.Canceled, ierrors.ErrTransientNetwork), "[Caller]")

	require.ErrorIs(t, err, ierrors.ErrTransientNetwork)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ierrors.ErrStoreUnavailable)
	require.Equal(t, "[Caller]: transient network failure: context canceled", err.Error())
}

func TestMark_Nil(t *testing.T) {
	require.NoError(t, ierrors.Mark(nil, ierrors.ErrTransientNetwork))
}
