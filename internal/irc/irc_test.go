package irc

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	logx "replybot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseChannelMessage(t *testing.T) {
	t.Parallel()
	msg := Parse(":alice!a@a.tmi.twitch.tv PRIVMSG #mychan :#set !hi hello there\r\n")
	cm, ok := msg.(*ChannelMessage)
	if !ok {
		t.Fatalf("Parse returned %T, want *ChannelMessage", msg)
	}
	if cm.User != "alice" || cm.Channel != "mychan" || cm.Text != "#set !hi hello there" {
		t.Fatalf("unexpected message %+v", cm)
	}
	if cm.Raw != ":alice!a@a.tmi.twitch.tv PRIVMSG #mychan :#set !hi hello there" {
		t.Fatalf("Raw = %q", cm.Raw)
	}
}

func TestParseUnrecognized(t *testing.T) {
	t.Parallel()
	tests := []string{
		":tmi.twitch.tv 001 bot :Welcome, GLHF!\r\n",
		"PING :tmi.twitch.tv\r\n",
		":alice!a@a.example.com PRIVMSG #mychan :hi\r\n",
		":alice!a@a.tmi.twitch.tv JOIN #mychan\r\n",
		"",
	}
	for _, line := range tests {
		msg := Parse(line)
		u, ok := msg.(Unrecognized)
		if !ok {
			t.Fatalf("Parse(%q) = %T, want Unrecognized", line, msg)
		}
		if want := strings.TrimSuffix(line, "\r\n"); string(u) != want {
			t.Fatalf("Unrecognized = %q, want %q", u, want)
		}
	}
}

func TestPingToken(t *testing.T) {
	t.Parallel()
	if tok, ok := PingToken("PING :tmi.twitch.tv\r\n"); !ok || tok != ":tmi.twitch.tv" {
		t.Fatalf("PingToken = %q, %v", tok, ok)
	}
	if _, ok := PingToken("PINGER x\r\n"); ok {
		t.Fatal("PINGER is not a ping")
	}
}

// pipeServer collects every line the client writes.
type pipeServer struct {
	conn  net.Conn
	lines chan string
	wg    sync.WaitGroup
}

func newPipe(t *testing.T) (client net.Conn, srv *pipeServer) {
	t.Helper()
	c, s := net.Pipe()
	srv = &pipeServer{conn: s, lines: make(chan string, 32)}
	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		defer close(srv.lines)
		br := bufio.NewReader(s)
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			srv.lines <- line
		}
	}()
	t.Cleanup(func() {
		_ = c.Close()
		_ = s.Close()
		srv.wg.Wait()
	})
	return c, srv
}

func (p *pipeServer) next(t *testing.T) string {
	t.Helper()
	select {
	case l := <-p.lines:
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}

func TestHandshakeOrderAndCommands(t *testing.T) {
	client, srv := newPipe(t)
	ctx := context.Background()

	_, w, err := NewClient(ctx, client, Config{Nick: "bot", Pass: "oauth:secret", RatePerSec: 1000, Burst: 10}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if got := srv.next(t); got != "PASS oauth:secret\r\n" {
		t.Fatalf("first line = %q", got)
	}
	if got := srv.next(t); got != "NICK bot\r\n" {
		t.Fatalf("second line = %q", got)
	}

	if err := w.Join(ctx, "#mychan"); err != nil {
		t.Fatal(err)
	}
	if got := srv.next(t); got != "JOIN #mychan\r\n" {
		t.Fatalf("join line = %q", got)
	}
	if err := w.SendChannelMessage(ctx, "mychan", "@alice Command has been set!\nJOIN #evil"); err != nil {
		t.Fatal(err)
	}
	if got := srv.next(t); got != "PRIVMSG #mychan :@alice Command has been set! JOIN #evil\r\n" {
		t.Fatalf("privmsg line = %q", got)
	}
	if err := w.Pong(":tmi.twitch.tv"); err != nil {
		t.Fatal(err)
	}
	if got := srv.next(t); got != "PONG :tmi.twitch.tv\r\n" {
		t.Fatalf("pong line = %q", got)
	}
}

func TestNoHandshakeWithoutCredentials(t *testing.T) {
	client, srv := newPipe(t)
	_, w, err := NewClient(context.Background(), client, Config{RatePerSec: 1000, Burst: 10}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Join(context.Background(), "c"); err != nil {
		t.Fatal(err)
	}
	if got := srv.next(t); got != "JOIN #c\r\n" {
		t.Fatalf("first line = %q, want JOIN", got)
	}
}

func TestConcurrentWritesStayWhole(t *testing.T) {
	client, srv := newPipe(t)
	_, w, err := NewClient(context.Background(), client, Config{RatePerSec: 1e6, Burst: 100}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.SendChannelMessage(context.Background(), "c", strings.Repeat("x", 200))
		}()
	}
	for i := 0; i < n; i++ {
		if got := srv.next(t); got != "PRIVMSG #c :"+strings.Repeat("x", 200)+"\r\n" {
			t.Fatalf("interleaved line %q", got)
		}
	}
	wg.Wait()
}

func TestReaderFailsOnEOF(t *testing.T) {
	c, s := net.Pipe()
	r, _, err := NewClient(context.Background(), c, Config{}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		_, _ = s.Write([]byte(":alice!a@a.tmi.twitch.tv PRIVMSG #c :hi\r\n"))
		_ = s.Close()
	}()
	msg, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if cm, ok := msg.(*ChannelMessage); !ok || cm.Text != "hi" {
		t.Fatalf("unexpected message %#v", msg)
	}
	if _, err := r.Next(); !errors.Is(err, ErrReadFailed) {
		t.Fatalf("Next after close = %v, want ErrReadFailed", err)
	}
	_ = c.Close()
}

func TestWriteFailsOnClosedConn(t *testing.T) {
	c, s := net.Pipe()
	_ = s.Close()
	_, _, err := NewClient(context.Background(), c, Config{Nick: "bot"}, logx.Nop())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("NewClient on closed pipe = %v, want ErrConnectionFailed", err)
	}
	_ = c.Close()
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, _, err = Dial(context.Background(), Config{Server: addr, DialTimeout: time.Second}, logx.Nop())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Dial = %v, want ErrConnectionFailed", err)
	}
}
