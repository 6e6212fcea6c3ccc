package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureSender) SendAlert(ctx context.Context, text string) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, text)
	c.mu.Unlock()
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestFormatAlertSortsFields(t *testing.T) {
	t.Parallel()
	got := formatAlert([]byte(`{"level":"warn","message":"poll failed","z":"1","a":2,"time":"x"}`))
	want := "[WARN] poll failed\n- a=2\n- z=1"
	if got != want {
		t.Fatalf("formatAlert = %q, want %q", got, want)
	}
}

func TestFormatAlertNonJSON(t *testing.T) {
	t.Parallel()
	if got := formatAlert([]byte("  plain line \n")); got != "plain line" {
		t.Fatalf("formatAlert = %q", got)
	}
}

func TestAlertWriterRespectsMinLevel(t *testing.T) {
	sender := &captureSender{}
	svc, log := New(Config{Level: "debug", File: FileConfig{}, Alert: AlertConfig{Enabled: true, MinLevel: "error", RatePerSec: 100}}, sender)
	defer svc.Close()

	log.Warn("not forwarded")
	log.Error("forwarded", String("comp", "test"))

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sender.count() != 1 {
		t.Fatalf("alerts = %d, want 1", sender.count())
	}
	if !strings.Contains(sender.msgs[0], "forwarded") {
		t.Fatalf("unexpected alert: %q", sender.msgs[0])
	}
}

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "dispatch"))
	log.Info("job queued", String("key", "g1:c1"))
	out := buf.String()
	if !strings.Contains(out, `"comp":"dispatch"`) || !strings.Contains(out, `"key":"g1:c1"`) {
		t.Fatalf("missing fields in %s", out)
	}
	if !log.Enabled(zerolog.DebugLevel) {
		t.Fatal("debug should be enabled")
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("nothing happens")
}
