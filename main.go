package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/qubit-data/calibration.report/internal/api"
	"github.com/qubit-data/calibration.report/internal/calstore"
	"github.com/qubit-data/calibration.report/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbFile        = flag.String("db", "calibration.db", "Path to the SQLite results database")
	migrationsDir = flag.String("migrations", "migrations", "Path to the schema migrations directory")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("calibration.report %s", version.String())

	store, err := calstore.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open results database: %v", err)
	}
	defer store.Close()

	if err := store.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("Failed to migrate results database: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes: live SQL console and backup download
		store.AttachAdminRoutes(mux)

		apiMux := api.NewServer(store).ServeMux()
		mux.Handle("/api/", apiMux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
