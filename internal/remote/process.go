package remote

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
)

// maxCapturedOutput bounds the stdout and stderr kept per run.
const maxCapturedOutput = 64 * 1024

// ProcessOperation runs a local command, for example a database dump.
type ProcessOperation struct {
	name string
	args []string
	env  []string
	dir  string

	mu       sync.Mutex
	runID    int
	status   Status
	cancel   context.CancelFunc
	done     chan struct{}
	stdout   *tailBuffer
	stderr   *tailBuffer
	exitCode int
}

// NewProcessOperation prepares name with args. env entries are appended to
// the current environment.
func NewProcessOperation(name string, args []string, env []string, dir string) *ProcessOperation {
	return &ProcessOperation{name: name, args: args, env: env, dir: dir}
}

// Start launches the command. The command outlives ctx; use Cancel to stop it.
func (p *ProcessOperation) Start(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == StatusInProgress {
		return "", errors.Newf("process %s is already running", p.name).
			Component("remote").
			Category(errors.CategoryConflict).
			Build()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, p.name, p.args...) //nolint:gosec // command comes from configuration
	cmd.Dir = p.dir
	if len(p.env) > 0 {
		cmd.Env = append(cmd.Environ(), p.env...)
	}
	stdout, stderr := newTailBuffer(maxCapturedOutput), newTailBuffer(maxCapturedOutput)
	cmd.Stdout, cmd.Stderr = stdout, stderr

	if err := cmd.Start(); err != nil {
		cancel()
		p.status = StatusFailed
		return "", errors.New(err).
			Component("remote").
			Category(errors.CategoryRemote).
			Context("command", p.name).
			Build()
	}

	p.runID++
	id := p.name + "-" + strconv.Itoa(p.runID)
	p.status = StatusInProgress
	p.cancel = cancel
	p.done = make(chan struct{})
	p.stdout, p.stderr = stdout, stderr
	p.exitCode = 0

	GetLogger().Info("process started",
		logger.String("command", p.name),
		logger.String("run_id", id),
		logger.Int("pid", cmd.Process.Pid))

	go p.wait(runCtx, cmd, p.done, time.Now())
	return id, nil
}

func (p *ProcessOperation) wait(runCtx context.Context, cmd *exec.Cmd, done chan struct{}, started time.Time) {
	err := cmd.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	defer close(done)

	switch {
	case runCtx.Err() != nil:
		p.status = StatusCancelled
	case err != nil:
		p.status = StatusFailed
	default:
		p.status = StatusSuccess
	}
	if cmd.ProcessState != nil {
		p.exitCode = cmd.ProcessState.ExitCode()
	}
	p.cancel()

	GetLogger().Info("process exited",
		logger.String("command", p.name),
		logger.String("status", string(p.status)),
		logger.Int("exit_code", p.exitCode),
		logger.Duration("elapsed", time.Since(started)))
}

// PollStatus returns the status of the last run.
func (p *ProcessOperation) PollStatus(_ context.Context) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == "" {
		return StatusPending, ErrNotStarted
	}
	return p.status, nil
}

// FetchLastOutput returns the captured output of the last run.
func (p *ProcessOperation) FetchLastOutput(_ context.Context) (Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdout == nil {
		return Output{}, ErrNotStarted
	}
	return Output{
		CommandID: p.name + "-" + strconv.Itoa(p.runID),
		Status:    p.status,
		Stdout:    p.stdout.String(),
		Stderr:    p.stderr.String(),
		ExitCode:  p.exitCode,
	}, nil
}

// Cancel kills the running process and waits for it to exit.
func (p *ProcessOperation) Cancel(ctx context.Context) error {
	p.mu.Lock()
	if p.status != StatusInProgress {
		p.mu.Unlock()
		return nil
	}
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	if len(p) > t.limit {
		p = p[len(p)-t.limit:]
	}
	if over := t.buf.Len() + len(p) - t.limit; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
