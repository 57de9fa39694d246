// Package main runs the local sync agent daemon. The desktop client
// talks to it over REST and WebSocket on localhost.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/taskdeck/clientsync/cmd/agentd/handlers"
	"github.com/taskdeck/clientsync/internal/cache"
	"github.com/taskdeck/clientsync/internal/config"
	"github.com/taskdeck/clientsync/internal/kv"
	"github.com/taskdeck/clientsync/internal/logging"
	"github.com/taskdeck/clientsync/internal/models"
	"github.com/taskdeck/clientsync/internal/queue"
	"github.com/taskdeck/clientsync/internal/replay"
	"github.com/taskdeck/clientsync/internal/scheduler"
)

// Version is set at build time.
var Version = "0.1.0"

// hubEvents fans scheduler notifications out over the WebSocket hub.
type hubEvents struct {
	hub *WSHub
}

func (e hubEvents) SyncStarted() {
	e.hub.BroadcastSyncStarted()
}

func (e hubEvents) SyncCompleted(replayed, remaining int) {
	e.hub.BroadcastSyncCompleted(replayed, remaining)
}

func (e hubEvents) SyncFailed(errorCode string) {
	e.hub.BroadcastSyncFailed(errorCode)
}

func (e hubEvents) OperationFailed(op models.QueuedOperation) {
	e.hub.BroadcastOperationFailed(op)
}

func logLevelFromConfig(level string) logging.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("clientsync agent v%s\n", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(os.Stdout, logLevelFromConfig(cfg.LogLevel))
	logging.Info("agent starting", map[string]interface{}{
		"version":     Version,
		"listen_addr": cfg.ListenAddr,
		"data_dir":    cfg.DataDir,
	})

	var store kv.Store
	sqliteStore, err := kv.OpenSQLite(cfg.DataDir)
	if err != nil {
		// Degrade to in-memory storage; the queue still works for the
		// lifetime of the process.
		logging.Warn("sqlite unavailable, using in-memory storage",
			map[string]interface{}{"error": err.Error()})
		store = kv.NewMemoryStore()
	} else {
		defer sqliteStore.Close()
		store = sqliteStore
	}

	manager := queue.NewManager(store)
	persister := cache.NewPersister(store)
	replayer := replay.NewHTTPReplayer(cfg.APIBaseURL, cfg.ReplayTimeout)

	hub := NewWSHub()

	sched := scheduler.New(manager, replayer, hubEvents{hub: hub}, scheduler.Config{
		Interval:      cfg.SyncInterval,
		ReplayTimeout: cfg.ReplayTimeout,
	})

	queueHandler := handlers.NewQueueHandler(manager, cfg.MaxRetries)
	queueHandler.SetWebSocketHub(hub)
	syncHandler := handlers.NewSyncHandler(sched)
	cacheHandler := handlers.NewCacheHandler(persister)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"clientsync-agent"}`))
	})

	mux.HandleFunc("GET /api/queue/status", queueHandler.GetStatus)
	mux.HandleFunc("POST /api/queue", queueHandler.Enqueue)
	mux.HandleFunc("DELETE /api/queue/failed", queueHandler.ClearFailed)
	mux.HandleFunc("DELETE /api/queue/{id}", queueHandler.Dequeue)
	mux.HandleFunc("DELETE /api/queue", queueHandler.ClearAll)

	mux.HandleFunc("GET /api/sync/status", syncHandler.GetStatus)
	mux.HandleFunc("POST /api/sync/trigger", syncHandler.TriggerSync)
	mux.HandleFunc("PUT /api/sync/online", syncHandler.SetOnline)

	mux.HandleFunc("POST /api/cache", cacheHandler.Persist)
	mux.HandleFunc("GET /api/cache", cacheHandler.Restore)
	mux.HandleFunc("DELETE /api/cache", cacheHandler.Remove)

	mux.HandleFunc("/ws", HandleWebSocket(hub))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("shutting down", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		logging.Error("server error", err)
	}

	sched.Stop()
	server.Shutdown(context.Background())
	logging.Info("agent stopped")
}
