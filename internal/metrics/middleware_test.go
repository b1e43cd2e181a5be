package metrics

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newInstrumentedRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r.Post("/rpc", func(w http.ResponseWriter, _ *http.Request) {
		// No explicit WriteHeader: the recorder should default to 200.
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":{},"id":1}`))
	})
	return r
}

// The collectors are process globals, so these cases run serially and
// assert on deltas.
func TestMiddlewareRecordsRoutesAndCodes(t *testing.T) {
	Init()
	router := newInstrumentedRouter()

	testCases := []struct {
		name   string
		method string
		path   string
		code   string
		route  string
	}{
		{"rpc call", http.MethodPost, "/rpc", "200", "/rpc"},
		{"not ready", http.MethodGet, "/readyz", "503", "/readyz"},
		{"unrouted path", http.MethodGet, "/search?q=lens", "404", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			counter := httpRequestsTotal.WithLabelValues(tc.method, tc.code)
			before := testutil.ToFloat64(counter)

			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}"))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tc.code, strconv.Itoa(rec.Code))
			require.InDelta(t, before+1, testutil.ToFloat64(counter), 0)
			require.True(t, httpRequestDurationSeconds.DeleteLabelValues(tc.method, tc.route),
				"no latency series for %s %s", tc.method, tc.route)
		})
	}
}

func TestMiddlewareUsesPatternNotRawPath(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/lenses/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, name := range []string{"rust", "golang", "recipes"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lenses/"+name, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.True(t, httpRequestDurationSeconds.DeleteLabelValues(http.MethodGet, "/lenses/{name}"))
	require.False(t, httpRequestDurationSeconds.DeleteLabelValues(http.MethodGet, "/lenses/rust"))
}
