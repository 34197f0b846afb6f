package alert_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freitascorp/gotransport/transport/alert"
)

type recordingAlerter struct {
	mu   sync.Mutex
	got  []alert.Event
	fail error
}

func (r *recordingAlerter) Alert(ctx context.Context, ev alert.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return r.fail
}

func TestFanoutDeliversToEveryAlerter(t *testing.T) {
	a := &recordingAlerter{}
	b := &recordingAlerter{}
	f := alert.NewFanout(a, b)

	ev := alert.Event{Cluster: "prod", Severity: alert.SeverityCritical, Message: "all nodes dead"}
	require.NoError(t, f.Alert(context.Background(), ev))

	require.Len(t, a.got, 1)
	require.Len(t, b.got, 1)
	assert.Equal(t, ev, a.got[0])
}

func TestFanoutJoinsErrorsFromFailingAlerters(t *testing.T) {
	a := &recordingAlerter{fail: errors.New("slack down")}
	b := &recordingAlerter{fail: errors.New("discord down")}
	f := alert.NewFanout(a, b)

	err := f.Alert(context.Background(), alert.Event{Cluster: "prod"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "slack down")
	assert.ErrorContains(t, err, "discord down")
}

func TestFanoutWithNoAlertersIsNoop(t *testing.T) {
	f := alert.NewFanout()
	assert.NoError(t, f.Alert(context.Background(), alert.Event{}))
}
