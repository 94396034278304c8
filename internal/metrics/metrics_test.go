package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndEndpoint(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Delivery("x", "published")
	m.Delivery("x", "published")
	m.Claim(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("x", "published")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claims.WithLabelValues("lost")))

	app := fiber.New()
	MountController(app.Group("/metrics"), m)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `publisher_delivery_attempts_total{outcome="published",platform="x"} 2`)
}
