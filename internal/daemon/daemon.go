// Package daemon runs the researcher server in the foreground and inspects or stops a
// running one through the pid and addr files under <home>/protected.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ankittk/researcher/internal/events"
	"github.com/ankittk/researcher/internal/httpapi"
	"github.com/ankittk/researcher/internal/manager"
	"github.com/ankittk/researcher/internal/notify"
	"github.com/ankittk/researcher/internal/otel"
	"github.com/ankittk/researcher/internal/pipeline"
	"github.com/ankittk/researcher/internal/task"
)

var errNotRunning = errors.New("researcher is not running")

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 15 * time.Second

// StartForeground serves the task API until ctx is done, then stops accepting requests
// and waits for in-flight tasks to finish.
func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}

	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return err
	}

	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	startPprof(opts.PprofAddr)

	stageSet, err := buildStages(opts)
	if err != nil {
		return err
	}
	arch, err := openArchive(opts)
	if err != nil {
		return err
	}
	defer func() { _ = arch.Close() }()

	hub := httpapi.NewSSEHub()
	pubs := events.Fanout{hub}
	if s := opts.Settings; s.KafkaBrokers != "" && s.KafkaTopic != "" {
		kp := events.NewKafkaPublisher(s.KafkaBrokers, s.KafkaTopic)
		defer func() { _ = kp.Close() }()
		pubs = append(pubs, kp)
		slog.Info("publishing task events to kafka", "topic", s.KafkaTopic)
	}

	st := task.NewStore()
	if s := opts.Settings; s.SlackWebhookURL != "" {
		n := &notify.Notifier{Targets: []notify.Target{notify.SlackWebhook{WebhookURL: s.SlackWebhookURL}}, Lookup: st.Get}
		defer n.Wait()
		pubs = append(pubs, n)
	}
	mgr := manager.New(manager.Options{
		Store: st,
		Runner: &pipeline.Executor{
			Stages:      stageSet,
			Recorder:    &task.Recorder{Store: st, Events: pubs},
			MaxAttempts: maxAttempts(opts.Settings),
		},
		Archive: arch,
		Events:  pubs,
	})

	srvOpts := httpapi.ServerOptions{
		Addr:   opts.Addr,
		Dev:    opts.Dev,
		APIKey: apiKey(opts),
	}
	if opts.EnableOtel {
		metricsHandler, err := otel.InitMeterProvider(ctx, "researcher")
		if err != nil {
			slog.Warn("otel init failed, using plain metrics", "err", err)
		} else {
			srvOpts.MetricsHandler = metricsHandler
			srvOpts.UseOtelHTTP = true
			if err := otel.InitMetricsWithTaskCount(ctx, taskCounts(st)); err != nil {
				slog.Warn("otel instruments", "err", err)
			}
		}
	}
	app, err := httpapi.NewApp(srvOpts, mgr, hub)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", opts.Addr, err)
	}
	addr := ln.Addr().String()

	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		_ = ln.Close()
		return err
	}
	_ = os.WriteFile(addrPath(opts.Home), []byte(addr+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	slog.Info("daemon starting", "addr", addr, "home", opts.Home, "stub", opts.Stub, "db_driver", opts.DBDriver)
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Server.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	slog.Info("waiting for running tasks")
	mgr.Wait()
	slog.Info("daemon stopped")
	return serveErr
}

func taskCounts(st *task.Store) otel.TaskCountFunc {
	return func() map[string]int64 {
		counts := st.Counts()
		out := make(map[string]int64, len(counts))
		for s, n := range counts {
			out[string(s)] = n
		}
		return out
	}
}

// Stop sends SIGTERM to the running server and waits for it to exit, killing it after the
// shutdown timeout. It reports whether a server was running.
func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return false, errNotRunning
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	deadline := time.Now().Add(shutdownTimeout)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	_ = proc.Kill()
	return true, nil
}

// Status reads the pid and addr files. A stale pid file is removed.
func Status(_ context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pb)))
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}

	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}
