package notify

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name string
	err  error
	sent []string
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, title+": "+message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestNotifyFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := New([]Sender{s}, []string{EventRebalance}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventSessionRecap, "recap", "ignored"))
	assert.Empty(t, s.sent)

	require.NoError(t, n.Notify(context.Background(), EventRebalance, "rebalanced", "details"))
	assert.Len(t, s.sent, 1)
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := New([]Sender{s}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventSafetyStop, "stop", "loss limit"))
	assert.Len(t, s.sent, 1)
}

func TestNotifyIsolatesSenderFailures(t *testing.T) {
	bad := &fakeSender{name: "bad", err: fmt.Errorf("webhook down")}
	good := &fakeSender{name: "good"}
	n := New([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), EventLiquidationRisk, "risk", "critical")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.sent, 1, "healthy channel still delivered")
}

func TestNotifyNoSenders(t *testing.T) {
	n := New(nil, nil, testLogger())
	assert.NoError(t, n.Notify(context.Background(), EventRebalance, "t", "m"))
}
