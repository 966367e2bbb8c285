package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"replybot/internal/broadcast"
	"replybot/internal/eventbus"
	"replybot/internal/task/engine"
	logx "replybot/pkg/logx"
)

func TestCommandCounter(t *testing.T) {
	m := New()
	m.CommandHandled("set", "ok")
	m.CommandHandled("set", "ok")
	m.CommandHandled("remove", "none")
	if got := testutil.ToFloat64(m.commands.WithLabelValues("set", "ok")); got != 2 {
		t.Fatalf("set/ok = %v, want 2", got)
	}
}

func TestObserveEvents(t *testing.T) {
	m := New()
	m.observe(eventbus.Event{Data: eventbus.RulesChanged{Version: 7, Count: 3}})
	m.observe(eventbus.Event{Data: engine.TaskEvent{Name: "store.upsert", Duration: time.Millisecond}})
	if got := testutil.ToFloat64(m.rulesVersion); got != 7 {
		t.Fatalf("rules version = %v", got)
	}
	if got := testutil.ToFloat64(m.rulesCount); got != 3 {
		t.Fatalf("rules count = %v", got)
	}
	if n := testutil.CollectAndCount(m.tasks); n != 1 {
		t.Fatalf("task series = %d, want 1", n)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	r := broadcast.New(broadcast.Options{}, logx.Nop())
	defer r.Close()
	m.TrackBroadcast(r)
	m.LineRead()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"replybot_irc_lines_read_total 1", "replybot_subscribers 0"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
