package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderCallOutcomes(t *testing.T) {
	m, err := New(Config{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)

	m.ObserveProviderCall("stripe", "cancel_subscription", nil, time.Millisecond)
	m.ObserveProviderCall("stripe", "cancel_subscription", errors.New("boom"), time.Millisecond)
	m.ObserveProviderCall("stripe", "cancel_subscription", errors.New("boom"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("stripe", "cancel_subscription", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("stripe", "cancel_subscription", "error")))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(Config{Registerer: reg})
	require.NoError(t, err)
	_, err = New(Config{Registerer: reg})
	assert.Error(t, err)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncPayment()
		m.IncReconcile("ok")
		m.IncInvoiceTransition("draft", "sent")
	})
}
