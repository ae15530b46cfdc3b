// Package collect reads event records from the FIFO the observers write to
// and forwards each line to a sink.
package collect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/HerbHall/sftphook/internal/record"
	"github.com/HerbHall/sftphook/internal/sink"
)

// Collector drains a FIFO. It holds the pipe open for both reading and
// writing so that writers coming and going never produce end of file, and
// reopens it with exponential backoff when reading fails.
type Collector struct {
	path   string
	out    sink.Sink
	logger *zap.Logger

	// NewBackOff builds the reopen policy. Defaults to an exponential
	// backoff capped at 30s that never gives up.
	NewBackOff func() backoff.BackOff

	lines   atomic.Int64
	invalid atomic.Int64
}

// New creates a Collector for the FIFO at path.
func New(path string, out sink.Sink, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{path: path, out: out, logger: logger.Named("collect")}
}

// Lines returns the number of records forwarded.
func (c *Collector) Lines() int64 { return c.lines.Load() }

// Invalid returns the number of lines that did not parse as records.
func (c *Collector) Invalid() int64 { return c.invalid.Load() }

func (c *Collector) backOff() backoff.BackOff {
	if c.NewBackOff != nil {
		return c.NewBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Run reads until ctx is done. It returns nil on cancellation and the last
// error when the backoff policy gives up.
func (c *Collector) Run(ctx context.Context) error {
	op := func() error {
		err := c.drain(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("event FIFO unavailable, retrying",
			zap.String("path", c.path),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(c.backOff(), ctx), notify)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (c *Collector) drain(ctx context.Context) error {
	// O_RDWR keeps a writer attached so reads block instead of hitting EOF.
	f, err := os.OpenFile(c.path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if fi.Mode()&os.ModeNamedPipe == 0 {
		f.Close()
		return backoff.Permanent(fmt.Errorf("%s is not a named pipe", c.path))
	}

	stop := context.AfterFunc(ctx, func() { f.Close() })
	defer func() {
		if stop() {
			f.Close()
		}
	}()
	c.logger.Info("reading event FIFO", zap.String("path", c.path))

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), record.MaxLength)
	var buf []byte
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if _, err := record.Parse(string(line)); err != nil {
			c.invalid.Add(1)
			c.logger.Debug("skipping malformed record", zap.ByteString("line", line), zap.Error(err))
			continue
		}
		buf = append(append(buf[:0], line...), '\n')
		if err := c.out.Write(buf); err != nil {
			c.logger.Error("forward record", zap.Error(err))
			continue
		}
		c.lines.Add(1)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", c.path, err)
	}
	return fmt.Errorf("read %s: unexpected end of file", c.path)
}
