package monitor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsPermanent(t *testing.T) {
	t.Parallel()

	require.False(t, IsPermanent(nil))
	require.False(t, IsPermanent(errors.New("dial tcp: i/o timeout")))
	require.True(t, IsPermanent(fmt.Errorf("fetch: %w", ErrUnsafeURL)))
	require.True(t, IsPermanent(fmt.Errorf("load source: %w", ErrSourceNotFound)))
	require.True(t, IsPermanent(ErrUnknownAdapter))
}

func TestSLAStateRank(t *testing.T) {
	t.Parallel()

	require.Less(t, SLAOnTrack.Rank(), SLADueSoon.Rank())
	require.Less(t, SLADueSoon.Rank(), SLAOverdue.Rank())
	require.Equal(t, 0, SLAState("").Rank())
}

func TestSourceKindNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindHTML, SourceKind("").Normalize())
	require.Equal(t, KindRSS, KindRSS.Normalize())
	require.True(t, RunStatusFailed.Terminal())
	require.False(t, RunStatusQueued.Terminal())
}

func TestTaskOpen(t *testing.T) {
	t.Parallel()

	require.True(t, Task{Status: "open"}.Open())
	require.True(t, Task{}.Open())
	require.False(t, Task{Status: "done"}.Open())
	require.False(t, IsPermanent(ErrInvalidTransition))
}
