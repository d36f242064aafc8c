package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRotationMetricsAreRegistered(t *testing.T) {
	LtkRotations.WithLabelValues("fresh", "success").Inc()
	StkRotations.WithLabelValues("success").Inc()
	RotationDuration.WithLabelValues("stk").Observe(0.01)
	StkIndex.Set(42)

	assert.Equal(t, 1, testutil.CollectAndCount(LtkRotations))
	assert.Equal(t, 1, testutil.CollectAndCount(StkRotations))
}

func TestFragmentMetricsAreRegistered(t *testing.T) {
	FramesSent.WithLabelValues("stk").Inc()
	ReassembliesCompleted.WithLabelValues("ltk_pub").Inc()
	FragmentErrors.WithLabelValues("invalid_length").Inc()

	assert.Equal(t, 1, testutil.CollectAndCount(FramesSent))
	assert.Equal(t, 1, testutil.CollectAndCount(FragmentErrors))
}

func TestVerificationMetricsAreRegistered(t *testing.T) {
	SignatureVerifications.WithLabelValues("valid").Inc()
	EnvelopeIntegrityChecks.WithLabelValues("invalid").Inc()
	StkPublications.Inc()

	assert.Equal(t, 1, testutil.CollectAndCount(SignatureVerifications))
	assert.Equal(t, 1, testutil.CollectAndCount(EnvelopeIntegrityChecks))
}
