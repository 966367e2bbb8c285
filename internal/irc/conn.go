// Package irc is a minimal line-based client for Twitch chat.
package irc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "replybot/pkg/logx"
)

var (
	ErrConnectionFailed = errors.New("irc: connection failed")
	ErrReadFailed       = errors.New("irc: read failed")
	ErrWriteFailed      = errors.New("irc: write failed")
)

// Config describes one chat connection.
type Config struct {
	Server string // host:port
	Nick   string
	Pass   string // usually "oauth:<token>"

	DialTimeout time.Duration

	// Outbound flood control. RatePerSec <= 0 uses the Twitch default of
	// 20 lines per 30 seconds.
	RatePerSec float64
	Burst      int
}

func (c Config) limiter() *rate.Limiter {
	r := rate.Limit(c.RatePerSec)
	if c.RatePerSec <= 0 {
		r = rate.Every(1500 * time.Millisecond)
	}
	b := c.Burst
	if b <= 0 {
		b = 5
	}
	return rate.NewLimiter(r, b)
}

// Dial connects to cfg.Server and authenticates. PASS and NICK are sent once,
// in that order, before anything else is written.
func Dial(ctx context.Context, cfg Config, log logx.Logger) (*Reader, *Writer, error) {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Server, err)
	}
	r, w, err := NewClient(ctx, conn, cfg, log)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return r, w, nil
}

// NewClient wraps an established connection and performs the PASS/NICK handshake.
func NewClient(ctx context.Context, conn io.ReadWriteCloser, cfg Config, log logx.Logger) (*Reader, *Writer, error) {
	r := &Reader{br: bufio.NewReader(conn)}
	w := &Writer{
		bw:      bufio.NewWriter(conn),
		closer:  conn,
		limiter: cfg.limiter(),
		log:     log,
	}
	if cfg.Pass != "" {
		if err := w.sendNow("PASS " + cfg.Pass); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
	}
	if cfg.Nick != "" {
		if err := w.sendNow("NICK " + cfg.Nick); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
	}
	log.Debug("irc handshake sent", logx.String("nick", cfg.Nick), logx.Bool("pass_set", cfg.Pass != ""))
	return r, w, nil
}

// Reader yields inbound lines. It is owned by a single goroutine.
type Reader struct {
	br *bufio.Reader
}

// ReadLine returns the next raw line including its terminator.
// Any I/O failure, io.EOF included, is ErrReadFailed.
func (r *Reader) ReadLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		if line != "" && errors.Is(err, io.EOF) {
			return line, nil
		}
		return "", fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	return line, nil
}

// Next reads and parses the next line.
func (r *Reader) Next() (Message, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, err
	}
	return Parse(line), nil
}

// Writer serializes outbound lines. It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	bw      *bufio.Writer
	closer  io.Closer
	limiter *rate.Limiter
	log     logx.Logger
}

// SendLine waits for the flood limiter, then writes text followed by CRLF.
// Embedded line breaks are replaced so one call is always one protocol line.
func (w *Writer) SendLine(ctx context.Context, text string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return w.sendNow(text)
}

func (w *Writer) sendNow(text string) error {
	text = strings.NewReplacer("\r", " ", "\n", " ").Replace(text)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.bw.WriteString(text + "\r\n"); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Join sends JOIN #channel. A leading '#' in channel is accepted.
func (w *Writer) Join(ctx context.Context, channel string) error {
	return w.SendLine(ctx, "JOIN #"+strings.TrimPrefix(channel, "#"))
}

// SendChannelMessage sends PRIVMSG #channel :text.
func (w *Writer) SendChannelMessage(ctx context.Context, channel, text string) error {
	return w.SendLine(ctx, "PRIVMSG #"+strings.TrimPrefix(channel, "#")+" :"+text)
}

// Pong answers a server PING. It bypasses the flood limiter.
func (w *Writer) Pong(token string) error {
	if token == "" {
		return w.sendNow("PONG")
	}
	return w.sendNow("PONG " + token)
}

// Close closes the underlying connection, which also unblocks the Reader.
func (w *Writer) Close() error {
	return w.closer.Close()
}
