//go:build linux

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"classjudge/internal/judge/sandbox/result"
	"classjudge/internal/judge/sandbox/spec"
	"classjudge/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const pipeWaitDelay = time.Second

type processEngine struct {
	cfg Config
}

// NewEngine creates a Linux process engine.
func NewEngine(cfg Config) (Engine, error) {
	return &processEngine{cfg: cfg.withDefaults()}, nil
}

func (e *processEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{ExitCode: -1}, err
	}
	outputLimit := runSpec.Limits.OutputBytes
	if outputLimit <= 0 {
		outputLimit = e.cfg.DefaultOutputBytes
	}

	cmd := exec.Command(runSpec.Cmd[0], runSpec.Cmd[1:]...)
	cmd.Dir = runSpec.WorkDir
	cmd.Env = e.buildEnv(runSpec)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	cmd.WaitDelay = pipeWaitDelay

	if runSpec.StdinPath != "" {
		stdin, err := os.Open(runSpec.StdinPath)
		if err != nil {
			return result.RunResult{ExitCode: -1}, fmt.Errorf("open stdin: %w", err)
		}
		defer stdin.Close()
		cmd.Stdin = stdin
	} else if len(runSpec.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(runSpec.Stdin)
	}

	var stdoutBuf bytes.Buffer
	var stdoutSink io.Writer = &stdoutBuf
	if runSpec.StdoutPath != "" {
		stdoutFile, err := os.OpenFile(runSpec.StdoutPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return result.RunResult{ExitCode: -1}, fmt.Errorf("open stdout: %w", err)
		}
		defer stdoutFile.Close()
		stdoutSink = stdoutFile
	}

	group := &processGroup{}
	stdout := newLimitedWriter(stdoutSink, outputLimit, group.kill)
	var stderrBuf bytes.Buffer
	stderr := newLimitedWriter(&stderrBuf, e.cfg.StderrMaxBytes, nil)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.RunResult{ExitCode: -1}, fmt.Errorf("start process: %w", err)
	}
	pid := cmd.Process.Pid
	group.start(pid)
	if stdout.Overflowed() {
		group.kill()
	}

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		if err := waitExited(pid); err != nil {
			logger.Warn(ctx, "wait for process exit failed", zap.Int("pid", pid), zap.Error(err))
		}
	}()

	var wallTimer <-chan time.Time
	if wall := runSpec.Limits.WallTime(); wall > 0 {
		timer := time.NewTimer(wall)
		defer timer.Stop()
		wallTimer = timer.C
	}
	timedOut := false
	select {
	case <-exited:
	case <-ctx.Done():
		group.kill()
		<-exited
	case <-wallTimer:
		timedOut = true
		group.kill()
		<-exited
	}
	// The leader is an unreaped zombie here, so -pid still names this group.
	group.seal()
	waitErr := cmd.Wait()

	runResult := result.RunResult{
		ExitCode:            exitCodeFromErr(waitErr, cmd.ProcessState),
		TimeMs:              time.Since(start).Milliseconds(),
		Stdout:              stdoutBuf.Bytes(),
		Stderr:              stderrBuf.Bytes(),
		TimedOut:            timedOut,
		OutputLimitExceeded: stdout.Overflowed(),
	}
	if runResult.TimedOut && runResult.ExitCode == 0 {
		runResult.ExitCode = -1
	}
	if waitErr != nil && errors.Is(waitErr, exec.ErrWaitDelay) {
		logger.Warn(ctx, "process left pipes open after exit", zap.Strings("cmd", runSpec.Cmd))
	}
	return runResult, nil
}

func (e *processEngine) buildEnv(runSpec spec.RunSpec) []string {
	env := make([]string, 0, len(e.cfg.BaseEnv)+len(runSpec.Env)+3)
	if len(e.cfg.BaseEnv) == 0 {
		env = append(env,
			"PATH="+os.Getenv("PATH"),
			"HOME="+runSpec.WorkDir,
			"LANG=C.UTF-8",
		)
	} else {
		env = append(env, e.cfg.BaseEnv...)
	}
	return append(env, runSpec.Env...)
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// processGroup signals the process group led by a started command. Once
// sealed it never signals again: after the leader is reaped its pid, and
// with it the group id, can be handed to an unrelated process.
type processGroup struct {
	mu     sync.Mutex
	pgid   int
	sealed bool
}

func (g *processGroup) start(pid int) {
	g.mu.Lock()
	g.pgid = pid
	g.mu.Unlock()
}

func (g *processGroup) kill() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killLocked()
}

// seal kills whatever is left in the group and disables further signals.
func (g *processGroup) seal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killLocked()
	g.sealed = true
}

func (g *processGroup) killLocked() {
	if g.sealed || g.pgid <= 0 {
		return
	}
	_ = unix.Kill(-g.pgid, unix.SIGKILL)
}

// waitExited blocks until pid exits but leaves it unreaped for cmd.Wait.
func waitExited(pid int) error {
	for {
		var info unix.Siginfo
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err != unix.EINTR {
			return err
		}
	}
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(runSpec.Cmd) == 0 || runSpec.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	return nil
}
