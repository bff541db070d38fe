package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// StartHTTP serves /healthz on the default mux (the webhook handler, when
// used, registers itself there too). ready is typically a db ping.
func StartHTTP(addr string, ready func(ctx context.Context) error) error {
	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ok\n" + err.Error()))
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	slog.Info("http server listening", "addr", addr)
	return http.ListenAndServe(addr, nil)
}
