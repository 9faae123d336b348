package daemon

import (
	"log/slog"
	"net/http"

	_ "net/http/pprof"
)

// startPprof serves the pprof handlers registered on DefaultServeMux. The task API runs on
// its own router, so profiling is only reachable on addr.
func startPprof(addr string) {
	if addr == "" {
		return
	}
	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			slog.Info("pprof server stopped", "addr", addr, "err", err)
		}
	}()
	slog.Info("pprof listening", "addr", addr)
}
