package remote

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPoll = PollConfig{InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond}

func TestProcessOperation_Success(t *testing.T) {
	op := NewProcessOperation("sh", []string{"-c", "echo dumped; echo warning >&2"}, []string{"PGPASSWORD=x"}, t.TempDir())
	ctx := context.Background()

	id, err := op.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sh-1", id)

	status, err := Await(ctx, op, fastPoll)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)

	out, err := op.FetchLastOutput(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dumped\n", out.Stdout)
	assert.Equal(t, "warning\n", out.Stderr)
	assert.Equal(t, 0, out.ExitCode)
}

func TestProcessOperation_Failure(t *testing.T) {
	op := NewProcessOperation("sh", []string{"-c", "echo 'could not connect to server' >&2; exit 3"}, nil, "")
	ctx := context.Background()

	_, err := op.Start(ctx)
	require.NoError(t, err)

	status, err := Await(ctx, op, fastPoll)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)

	out, err := op.FetchLastOutput(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
	assert.Contains(t, out.Stderr, "could not connect to server")
}

func TestProcessOperation_Cancel(t *testing.T) {
	op := NewProcessOperation("sleep", []string{"10"}, nil, "")
	ctx := context.Background()

	_, err := op.Start(ctx)
	require.NoError(t, err)

	_, err = op.Start(ctx)
	require.Error(t, err, "a second start while running is rejected")

	require.NoError(t, op.Cancel(ctx))
	status, err := op.PollStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, status)

	require.NoError(t, op.Cancel(ctx), "cancelling a stopped operation is a no-op")
}

func TestProcessOperation_NotStarted(t *testing.T) {
	op := NewProcessOperation("true", nil, nil, "")

	status, err := op.PollStatus(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)
	assert.Equal(t, StatusPending, status)

	_, err = op.FetchLastOutput(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestProcessOperation_StartFailure(t *testing.T) {
	op := NewProcessOperation("/nonexistent/binary", nil, nil, "")
	_, err := op.Start(context.Background())
	require.Error(t, err)

	status, err := op.PollStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
}

func TestAwait_ContextDone(t *testing.T) {
	op := NewProcessOperation("sleep", []string{"10"}, nil, "")
	_, err := op.Start(context.Background())
	require.NoError(t, err)
	defer func() { _ = op.Cancel(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	status, err := Await(ctx, op, fastPoll)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusCancelled, status)
}

func TestTailBuffer_KeepsTail(t *testing.T) {
	b := newTailBuffer(8)
	n, err := b.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "23456789", b.String())

	_, _ = b.Write([]byte("ab"))
	assert.Equal(t, "456789ab", b.String())
	assert.True(t, strings.HasSuffix(b.String(), "ab"))
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}
