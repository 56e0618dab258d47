package vectorstore

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	success := testutil.ToFloat64(OperationsTotal.WithLabelValues("metrics_test", "success"))
	failure := testutil.ToFloat64(OperationsTotal.WithLabelValues("metrics_test", "error"))

	observe("metrics_test", time.Now(), nil)
	observe("metrics_test", time.Now(), nil)
	observe("metrics_test", time.Now(), errors.New("boom"))

	assert.Equal(t, success+2, testutil.ToFloat64(OperationsTotal.WithLabelValues("metrics_test", "success")))
	assert.Equal(t, failure+1, testutil.ToFloat64(OperationsTotal.WithLabelValues("metrics_test", "error")))
}

func TestRecordPing(t *testing.T) {
	recordPing(nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(Up))

	recordPing(errors.New("down"))
	assert.Equal(t, float64(0), testutil.ToFloat64(Up))
}
