package platform

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/process"
)

// Supervision constants
const (
	DefaultStopGrace = 2 * time.Second
	CaptureWaitDelay = 2 * time.Second
	ErrorTailBytes   = 2048
	DrainAfterExit   = 2 * time.Second
	MaxLineBytes     = 1024 * 1024
)

var (
	// ErrTimeout is returned by Capture when the command outlives its deadline
	ErrTimeout = errors.New("command timed out")
)

// Command describes an external executable invocation
type Command struct {
	Path string
	Args []string
	Dir  string
}

func (c Command) String() string {
	return c.Path + " " + strings.Join(c.Args, " ")
}

// ExitError is returned when a command exits with a non-zero status
type ExitError struct {
	Code int
	Tail string // last bytes of the error output
}

func (e *ExitError) Error() string {
	if e.Tail == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Tail)
}

// Process supervises one running external process and its process group.
// It is owned by the worker that started it.
type Process struct {
	cmd    *exec.Cmd
	output *os.File
	logger hclog.Logger

	done     chan struct{}
	exitCode int
	waitErr  error

	closeOnce sync.Once
}

// Start launches the command in its own process group with stdout and stderr
// combined into a single stream readable through Output.
func Start(c Command, logger hclog.Logger) (*Process, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "create output pipe")
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = writer
	cmd.Stderr = writer
	configureProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		reader.Close()
		writer.Close()
		return nil, errors.Wrapf(err, "start %s", c.Path)
	}
	// The child owns the write end now.
	writer.Close()

	p := &Process{
		cmd:      cmd,
		output:   reader,
		logger:   logger.With("pid", cmd.Process.Pid),
		done:     make(chan struct{}),
		exitCode: -1,
	}
	p.logger.Debug("process started", "path", c.Path)

	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.waitErr = err
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	p.logger.Debug("process exited", "code", p.exitCode)
	close(p.done)
}

// PID returns the OS process id
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Output returns the combined stdout/stderr stream. It reaches EOF once every
// process holding the write end has exited, or after Stop.
func (p *Process) Output() io.Reader {
	return p.output
}

// Done is closed once the process has exited and been reaped
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit status, or -1 while running or after a signal
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		return p.exitCode
	default:
		return -1
	}
}

// Exited reports whether the process has been reaped
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits or timeout elapses. It returns true if
// the process exited.
func (p *Process) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

// Signal sends a graceful termination request to the whole process group
func (p *Process) Signal() error {
	if p.Exited() {
		return nil
	}
	return errors.Wrap(signalGroup(p.PID()), "signal process group")
}

// Kill unconditionally terminates the process tree. Descendants are collected
// before the group is killed so that re-parented children are reached too.
func (p *Process) Kill() error {
	descendants := collectDescendants(int32(p.PID()))

	var failures []string
	if err := killGroup(p.PID()); err != nil && !p.Exited() {
		failures = append(failures, err.Error())
	}
	for _, child := range descendants {
		if err := child.Kill(); err != nil {
			if running, _ := child.IsRunning(); running {
				failures = append(failures, fmt.Sprintf("pid %d: %v", child.Pid, err))
			}
		}
	}

	if len(failures) > 0 {
		return errors.Errorf("kill process tree: %s", strings.Join(failures, "; "))
	}
	return nil
}

// Stop runs the escalation sequence: graceful signal, wait up to grace, then
// force kill of the tree. The process is treated as terminated afterwards
// even if the OS refused a signal; failures are only logged.
func (p *Process) Stop(grace time.Duration) {
	defer p.closeOutput()

	if p.Exited() {
		return
	}
	if err := p.Signal(); err != nil {
		p.logger.Warn("graceful stop failed", "error", err)
	}
	if p.Wait(grace) {
		return
	}

	p.logger.Info("process ignored stop request, killing tree")
	if err := p.Kill(); err != nil {
		p.logger.Warn("force kill failed", "error", err)
	}
	if !p.Wait(grace) {
		p.logger.Warn("process still not reaped after kill")
	}
}

// Close releases the output stream
func (p *Process) Close() {
	p.closeOutput()
}

func (p *Process) closeOutput() {
	p.closeOnce.Do(func() {
		p.output.Close()
	})
}

// Stream feeds every output line to onLine until the output closes and the
// process has exited. If ctx is cancelled first, the process is stopped with
// the escalation sequence and Stream returns true without waiting for the
// remaining output.
func (p *Process) Stream(ctx context.Context, grace time.Duration, onLine func(string)) (cancelled bool) {
	lines := make(chan string)
	quit := make(chan struct{})
	defer close(quit)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(p.output)
		scanner.Buffer(make([]byte, 64*1024), MaxLineBytes)
		scanner.Split(ScanLines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-quit:
				return
			}
		}
	}()

	// A grandchild may keep the pipe open after the process exits; stop
	// reading a short while after exit instead of waiting on it forever.
	var drain <-chan time.Time
	exited := p.done
	for {
		select {
		case <-ctx.Done():
			p.Stop(grace)
			return true
		case line, ok := <-lines:
			if !ok {
				return p.awaitExit(ctx, grace)
			}
			onLine(line)
		case <-exited:
			exited = nil
			timer := time.NewTimer(DrainAfterExit)
			defer timer.Stop()
			drain = timer.C
		case <-drain:
			p.closeOutput()
			return false
		}
	}
}

func (p *Process) awaitExit(ctx context.Context, grace time.Duration) bool {
	select {
	case <-p.done:
		p.closeOutput()
		return false
	case <-ctx.Done():
		p.Stop(grace)
		return true
	}
}

// ScanLines is a bufio.SplitFunc that treats \r, \n and \r\n as line
// terminators, so in-place progress updates arrive as separate lines.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		} else if data[i] == '\r' && i+1 == len(data) && !atEOF {
			// need one more byte to tell \r from \r\n
			return 0, nil, nil
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// collectDescendants walks the process tree below pid. Errors are ignored:
// a process may exit while the tree is being walked.
func collectDescendants(pid int32) []*process.Process {
	root, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}

	var out []*process.Process
	queue := []*process.Process{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := current.Children()
		if err != nil {
			continue
		}
		out = append(out, children...)
		queue = append(queue, children...)
	}
	return out
}

// Capture runs a short-lived command to completion and returns its stdout.
// The whole process group is killed when ctx is cancelled or timeout elapses.
func Capture(ctx context.Context, c Command, timeout time.Duration, logger hclog.Logger) ([]byte, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	configureProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = CaptureWaitDelay

	logger.Debug("running command", "command", c.String())
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, errors.Wrapf(ErrTimeout, "%s after %s", c.Path, timeout)
		}
		return nil, errors.Wrap(ctxErr, c.Path)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &ExitError{Code: exitErr.ExitCode(), Tail: tail(stderr.String(), ErrorTailBytes)}
		}
		return nil, errors.Wrapf(err, "run %s", c.Path)
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
