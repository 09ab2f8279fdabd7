package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"postroom/internal/domain/notification"
	"postroom/internal/infra/pool"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedPool pool.Stats

func (f fixedPool) PoolStats() pool.Stats { return pool.Stats(f) }

// gather flattens a registry into "name{label=value,...}" keys.
func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			key := f.GetName()
			if len(labels) > 0 {
				key += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				values[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				values[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return values
}

func TestNewRuntimeRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRuntimeRegistry()

	var sawGo bool
	for key := range gather(t, reg) {
		assert.False(t, strings.HasPrefix(key, "postroom_"), key)
		if strings.HasPrefix(key, "go_") {
			sawGo = true
		}
	}
	assert.True(t, sawGo)

	// Delivery instruments are not preregistered, so the worker can add them.
	require.NotPanics(t, func() { New(reg) })
}

func TestObserveDelivery(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveDelivery("direct-send", notification.Sent("<id@example.com>"), 20*time.Millisecond)
	m.ObserveDelivery("direct-send", notification.Sent("<id2@example.com>"), 30*time.Millisecond)
	m.ObserveDelivery("direct-send", notification.Failed(errors.New("421"), true), time.Second)
	m.ObserveDelivery("hosted-api", notification.Failed(errors.New("400"), false), time.Second)

	values := gather(t, reg)
	assert.Equal(t, 2.0, values["postroom_deliveries_total{outcome=sent,provider=direct-send}"])
	assert.Equal(t, 1.0, values["postroom_deliveries_total{outcome=retryable,provider=direct-send}"])
	assert.Equal(t, 1.0, values["postroom_deliveries_total{outcome=permanent,provider=hosted-api}"])
	assert.Equal(t, 3.0, values["postroom_delivery_duration_seconds{provider=direct-send}"])
}

func TestRegisterPool(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RegisterPool(fixedPool{MaxSize: 10, Leased: 3, Idle: 2, Reclaimed: 1})

	values := gather(t, reg)
	assert.Equal(t, 10.0, values["postroom_smtp_pool_max_size"])
	assert.Equal(t, 3.0, values["postroom_smtp_pool_leased"])
	assert.Equal(t, 2.0, values["postroom_smtp_pool_idle"])
	assert.Equal(t, 1.0, values["postroom_smtp_pool_reclaimed_total"])
}
