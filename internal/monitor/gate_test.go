package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateEmptyListIsUnavailable(t *testing.T) {
	g := NewGate(newFakeTransport(), nil, time.Second)
	require.False(t, g.Available(context.Background()))
}

func TestGateAllFailIsUnavailable(t *testing.T) {
	tr := newFakeTransport().set("https://a.com", 0).set("https://b.com", 0)
	g := NewGate(tr, []string{"https://a.com", "https://b.com"}, time.Second)
	require.False(t, g.Available(context.Background()))
}

func TestGateAnySuccessIsAvailable(t *testing.T) {
	tr := newFakeTransport().set("https://a.com", 0).set("https://b.com", 404)
	g := NewGate(tr, []string{"https://a.com", "https://b.com"}, time.Second)
	require.True(t, g.Available(context.Background()))
}

func TestGateReturnsOnFirstSuccess(t *testing.T) {
	tr := newFakeTransport().set("https://fast.com", 200).set("https://slow.com", 200)
	tr.delay["https://slow.com"] = 5 * time.Second
	g := NewGate(tr, []string{"https://slow.com", "https://fast.com"}, 10*time.Second)

	start := time.Now()
	require.True(t, g.Available(context.Background()))
	require.Less(t, time.Since(start), time.Second)
}
