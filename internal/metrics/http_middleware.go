package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ObserveHTTPRequest(r.Method, routePattern(r), strconv.Itoa(status), time.Since(start))
	})
}

// routePattern берёт шаблон chi ("/channels/{id}"), чтобы не плодить лейблы по id.
func routePattern(r *http.Request) string {
	if r == nil {
		return ""
	}
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return r.URL.Path
	}
	if p := rc.RoutePattern(); p != "" {
		return p
	}
	return r.URL.Path
}
