package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveAPI(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("list_apps", "ok"))
	ObserveAPI("list_apps", "ok", time.Now())
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("list_apps", "ok"))
	assert.Equal(t, before+1, after)
}
