package capture

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/transport"
)

const packetLogSuffix = ".packet.log"

// PacketLogOptions configures a PacketLog.
type PacketLogOptions struct {
	Dir      string
	Archiver Archiver
}

// PacketLog appends live packets as NDJSON records. A new file is opened
// for every game session; an empty previous file is deleted, otherwise it is
// handed to the archiver.
type PacketLog struct {
	mu       sync.Mutex
	dir      string
	file     *os.File
	w        *bufio.Writer
	path     string
	count    int
	archiver Archiver
	wg       sync.WaitGroup
	logger   zerolog.Logger

	now func() time.Time
}

var _ transport.SessionListener = (*PacketLog)(nil)

// NewPacketLog creates the directory and opens the first file.
func NewPacketLog(opts PacketLogOptions) (*PacketLog, error) {
	if opts.Dir == "" {
		opts.Dir = "packet_logs"
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create packet log dir: %w", err)
	}
	l := &PacketLog{
		dir:      opts.Dir,
		archiver: opts.Archiver,
		logger:   log.With().Str("component", "packet_log").Logger(),
		now:      time.Now,
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *PacketLog) open() error {
	base := l.now().Format("20060102_1504")
	p := filepath.Join(l.dir, base+packetLogSuffix)
	for i := 1; ; i++ {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			break
		}
		p = filepath.Join(l.dir, fmt.Sprintf("%s_%d%s", base, i, packetLogSuffix))
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open packet log: %w", err)
	}
	l.file, l.w, l.path, l.count = f, bufio.NewWriter(f), p, 0
	l.logger.Debug().Str("file", p).Msg("Packet log opened")
	return nil
}

// Write appends one record.
func (l *PacketLog) Write(pkt transport.Packet) error {
	rec, err := MarshalRecord(pkt)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return os.ErrClosed
	}
	if _, err := l.w.Write(rec); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	l.count++
	return nil
}

// NewSession rotates the log.
func (l *PacketLog) NewSession(ctx context.Context, sessionID uint16) {
	if err := l.Rotate(ctx); err != nil {
		l.logger.Error().Err(err).Uint16("session", sessionID).Msg("Packet log rotation failed")
	}
}

// Rotate closes the current file and opens a new one.
func (l *PacketLog) Rotate(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.closeLocked(ctx); err != nil {
		return err
	}
	return l.open()
}

func (l *PacketLog) closeLocked(ctx context.Context) error {
	if l.file == nil {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return err
	}
	p, n := l.path, l.count
	l.file, l.w = nil, nil

	if n == 0 {
		l.logger.Debug().Str("file", p).Msg("Empty packet log removed")
		return os.Remove(p)
	}
	l.logger.Info().Str("file", p).Int("packets", n).Msg("Packet log closed")
	if l.archiver != nil {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			if err := l.archiver.Archive(context.WithoutCancel(ctx), p); err != nil {
				l.logger.Error().Err(err).Str("file", p).Msg("Packet log archive failed")
			}
		}()
	}
	return nil
}

// Flush writes buffered records to the file.
func (l *PacketLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	return l.w.Flush()
}

// Path is the file currently written.
func (l *PacketLog) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Close closes the file and waits for pending archive jobs.
func (l *PacketLog) Close() error {
	l.mu.Lock()
	err := l.closeLocked(context.Background())
	l.mu.Unlock()
	l.wg.Wait()
	return err
}
