package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeCounter struct {
	counts map[string]int64
	err    error
}

func (f fakeCounter) CountDeliveriesByStatus(context.Context) (map[string]int64, error) {
	return f.counts, f.err
}

func TestUpdateDeliveryGauges(t *testing.T) {
	UpdateDeliveryGauges(context.Background(), fakeCounter{counts: map[string]int64{
		"pending": 3,
		"failed":  1,
	}}, zap.NewNop())

	assert.Equal(t, 3.0, testutil.ToFloat64(deliveryStatus.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(deliveryStatus.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(deliveryStatus.WithLabelValues("delivered")))

	// ошибка хранилища не трогает gauges
	UpdateDeliveryGauges(context.Background(), fakeCounter{err: errors.New("db down")}, zap.NewNop())
	assert.Equal(t, 3.0, testutil.ToFloat64(deliveryStatus.WithLabelValues("pending")))
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/channels/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/channels/{id}", "418"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/channels/42", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	after := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/channels/{id}", "418"))
	assert.Equal(t, before+1, after)
}
