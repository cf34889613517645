package calstore

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts debugging endpoints on mux: a live tailsql
// console over the results database and an on-demand backup download.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://calibration.db", s.db, &tailsql.DBOptions{
		Label: "Calibration results DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Download a gzipped snapshot of the results database", http.HandlerFunc(s.serveBackup))
}

// serveBackup snapshots the database with VACUUM INTO, which is safe against
// concurrent writers, and streams the snapshot gzipped. The snapshot lives
// in the system temp dir only for the duration of the request.
func (s *Store) serveBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("calibration-%s.db", time.Now().Format("20060102-150405"))
	snapshot := filepath.Join(os.TempDir(), name)

	if _, err := s.db.Exec("VACUUM INTO ?", snapshot); err != nil {
		http.Error(w, fmt.Sprintf("snapshot failed: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(snapshot); err != nil {
			log.Printf("removing snapshot %s: %v", snapshot, err)
		}
	}()

	f, err := os.Open(snapshot)
	if err != nil {
		http.Error(w, fmt.Sprintf("opening snapshot: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		// Headers are gone; all we can do is log.
		log.Printf("streaming snapshot %s: %v", snapshot, err)
	}
}
