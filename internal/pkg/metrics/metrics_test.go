package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/pedscribe/pedscribe/internal/pkg/dedup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Twice(t *testing.T) {
	c1, err := Register(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_register_twice"}))
	require.Nil(t, err)
	c2, err := Register(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_register_twice"}))
	require.Nil(t, err)
	c2.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(c1))
}

func TestNewPipeline(t *testing.T) {
	p1, err := NewPipeline()
	require.Nil(t, err)
	p2, err := NewPipeline()
	require.Nil(t, err)
	before := testutil.ToFloat64(p1.dedupSuspicious)
	p2.ObserveDedup(dedup.Stats{RemovedRatio: 0.6, Suspicious: true})
	p2.ObserveDedup(dedup.Stats{RemovedRatio: 0.1})
	assert.Equal(t, before+1, testutil.ToFloat64(p1.dedupSuspicious))
}

func TestObserveStep(t *testing.T) {
	p, err := NewPipeline()
	require.Nil(t, err)
	p.ObserveStep("cleaning", nil, time.Second)
	p.ObserveStep("cleaning", errors.New("olia"), time.Second)
	assert.Equal(t, 2, testutil.CollectAndCount(p.stepDur))
}

func TestNil(t *testing.T) {
	var p *Pipeline
	p.ObserveStep("cleaning", nil, time.Second)
	p.ObserveDedup(dedup.Stats{Suspicious: true})
}
