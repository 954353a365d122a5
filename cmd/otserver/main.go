// Command otserver is the authoritative OT server process: it wires
// configuration, the persistence Store, the Backend/Agent commit-and-fanout
// layer, and the websocket transport together, following the bring-up
// style of the teacher's main() (log.Fatal on any unrecoverable startup
// failure, http.HandleFunc routing, a plain health endpoint).
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"otsync/internal/archive"
	"otsync/internal/config"
	"otsync/internal/ottypes"
	"otsync/internal/otserver"
	"otsync/internal/presence"
	"otsync/internal/serverstore"
	"otsync/internal/transport/ws"
)

func main() {
	cfg := config.Load()

	store := openStore(cfg)
	registry := ottypes.NewDefaultRegistry()

	backend := otserver.NewBackend(store, registry)
	backend.SetMaxRetries(cfg.MaxSubmitRetries)

	if tracker := connectPresence(cfg); tracker != nil {
		backend.SetPresence(tracker)
	}

	if cfg.ArchiveEnabled {
		startArchiveSweeper(cfg, store)
	}

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.Serve(backend, w, r)
	})
	http.HandleFunc("/healthz", handleHealth(store, backend))

	log.Printf("otserver: listening on %s (store=%s)", cfg.HTTPAddr, cfg.StoreDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, nil))
}

func openStore(cfg *config.Config) serverstore.Store {
	if cfg.StoreDriver != "postgres" {
		return serverstore.NewMemoryStore()
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("otserver: failed to open postgres: ", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatal("otserver: failed to ping postgres: ", err)
	}
	log.Println("otserver: connected to postgres")
	return serverstore.NewPGStore(db)
}

func connectPresence(cfg *config.Config) *presence.Tracker {
	client, err := presence.Connect(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Printf("otserver: presence disabled, redis unavailable: %v", err)
		return nil
	}
	log.Println("otserver: connected to redis for presence tracking")
	return presence.NewTracker(client)
}

func startArchiveSweeper(cfg *config.Config, store serverstore.Store) {
	client, err := archive.NewClient(cfg.AWSRegion, cfg.AWSBucket)
	if err != nil {
		log.Printf("otserver: archival disabled: %v", err)
		return
	}
	sweeper := archive.NewSweeper(client, store, time.Duration(cfg.ArchiveInterval)*time.Second)
	go sweeper.Run(context.Background())
	log.Printf("otserver: archiving snapshots to s3://%s every %ds", cfg.AWSBucket, cfg.ArchiveInterval)
}

// handleHealth mirrors the teacher's handleHealthCheck: it pings the
// durable store and reports the number of currently-open documents
// alongside the overall status.
func handleHealth(store serverstore.Store, backend *otserver.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := "ok"
		storeStatus := "ok"
		if err := store.Ping(ctx); err != nil {
			log.Printf("otserver: health check: store unreachable: %v", err)
			status = "degraded"
			storeStatus = "unreachable"
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         status,
			"store":          storeStatus,
			"open_doc_count": backend.OpenDocCount(),
		})
	}
}
