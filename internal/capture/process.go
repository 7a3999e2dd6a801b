package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	processMonitorInterval = 5 * time.Second
	processStopTimeout     = 5 * time.Second
)

// ProcessOptions configures an external capture command. The command
// prints one packet record per line on stdout.
type ProcessOptions struct {
	Command     []string
	WorkDir     string
	LocalPrefix string
}

// ProcessStats is a sample of the capture process resources.
type ProcessStats struct {
	PID        int     `json:"pid"`
	Running    bool    `json:"running"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Lines      int64   `json:"lines"`
}

// Process runs a capture tool and reads its packet records. Stop is meant
// to be registered as a shutdown hook.
type Process struct {
	opts   ProcessOptions
	logger zerolog.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	proc  *process.Process
	lines int64
	done  chan struct{}
}

var _ Source = (*Process)(nil)

func NewProcess(opts ProcessOptions) *Process {
	return &Process{
		opts:   opts,
		logger: log.With().Str("component", "capture_process").Logger(),
	}
}

func (p *Process) Name() string {
	if len(p.opts.Command) == 0 {
		return "process"
	}
	return "process:" + p.opts.Command[0]
}

// Run starts the command and queues its records until it exits or ctx is
// done.
func (p *Process) Run(ctx context.Context, q *Queue) error {
	if len(p.opts.Command) == 0 {
		return errors.New("capture command is empty")
	}
	cmd := exec.Command(p.opts.Command[0], p.opts.Command[1:]...)
	cmd.Dir = p.opts.WorkDir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start capture command: %w", err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.done = make(chan struct{})
	if proc, err := process.NewProcess(int32(cmd.Process.Pid)); err == nil {
		p.proc = proc
	}
	done := p.done
	p.mu.Unlock()

	p.logger.Info().
		Strs("command", p.opts.Command).
		Int("pid", cmd.Process.Pid).
		Msg("Capture process started")

	go p.monitor(ctx, done)
	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-done:
		}
	}()

	readErr := p.read(ctx, stdout, q)
	waitErr := cmd.Wait()
	close(done)

	p.logger.Info().Int64("lines", p.lineCount()).Msg("Capture process exited")
	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		return readErr
	}
	if ctx.Err() != nil {
		return nil
	}
	if waitErr != nil {
		return fmt.Errorf("capture command: %w", waitErr)
	}
	return nil
}

func (p *Process) read(ctx context.Context, r io.Reader, q *Queue) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		p.mu.Lock()
		p.lines++
		p.mu.Unlock()

		pkt, ok, err := ParseRecord(raw, p.opts.LocalPrefix)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Unreadable capture line skipped")
			continue
		}
		if !ok {
			continue
		}
		if err := q.Push(ctx, pkt); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (p *Process) monitor(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(processMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			st, err := p.Stats()
			if err != nil {
				p.logger.Debug().Err(err).Msg("Capture process stats unavailable")
				continue
			}
			p.logger.Debug().
				Int("pid", st.PID).
				Float64("cpu", st.CPUPercent).
				Uint64("rss", st.RSSBytes).
				Int64("lines", st.Lines).
				Msg("Capture process")
		}
	}
}

func (p *Process) lineCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lines
}

// Stats samples the running process.
func (p *Process) Stats() (ProcessStats, error) {
	p.mu.Lock()
	proc := p.proc
	st := ProcessStats{Lines: p.lines}
	p.mu.Unlock()

	if proc == nil {
		return st, errors.New("capture process not running")
	}
	st.PID = int(proc.Pid)
	running, err := proc.IsRunning()
	if err != nil {
		return st, err
	}
	st.Running = running
	if !running {
		return st, nil
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	return st, nil
}

// Stop terminates the process, killing it when it does not exit in time.
func (p *Process) Stop() error {
	p.mu.Lock()
	proc, done := p.proc, p.done
	p.mu.Unlock()
	if proc == nil || done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	p.logger.Info().Int32("pid", proc.Pid).Msg("Stopping capture process")
	if err := proc.Terminate(); err != nil {
		p.logger.Warn().Err(err).Msg("Terminate failed, killing")
		return proc.Kill()
	}
	select {
	case <-done:
	case <-time.After(processStopTimeout):
		p.logger.Warn().Msg("Capture process did not stop, killing")
		return proc.Kill()
	}
	return nil
}
