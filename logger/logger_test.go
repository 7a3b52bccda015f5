package logger

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestWarnCounterByComponent(t *testing.T) {
	before := sumCounts(&warnCounts)
	log := Logger()
	log.SetOutput(io.Discard)
	log.WithComponent("detector").Warn("edge rescan lagging")
	if after := sumCounts(&warnCounts); after != before+1 {
		t.Fatalf("expected warn count %d, got %d", before+1, after)
	}
}

func TestLogDataFlowEntry(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	LogDataFlowEntry(log.WithComponent("kafka_writer"), "reader", "kalshi.markets", 42, "raw_event")

	out := buf.String()
	for _, want := range []string{`"source":"reader"`, `"destination":"kalshi.markets"`, `"record_count":42`, `"flow_type":"data_flow"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in output: %s", want, out)
		}
	}
}

func TestChannelStats(t *testing.T) {
	RecordChannelMessage("publish_test.topic", 128)
	v, ok := channels.Load("publish_test.topic")
	if !ok {
		t.Fatalf("channel stat not recorded")
	}
	cs := v.(*channelStat)
	if cs.messages < 1 || cs.bytes < 128 {
		t.Fatalf("unexpected channel stat: %+v", cs)
	}
}
