/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the donor ledger service. Handles
  configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and parse command-line flags
  2. Open the selected store (sqlite, postgres, or memory)
  3. Wire the engine, privilege checker, join watcher, and auditor
  4. Configure the HTTP router
  5. Start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -store   Storage backend: sqlite | postgres | memory (default: sqlite)
  -db      SQLite database path (default: donor.db, ":memory:" works)
  -env     Path of the env file to load (default: .env, missing is fine)

ENVIRONMENT:
  OWNER_ID         Fixed owner identity (required for privileged ops)
  REFERENCE_GROUP  Group whose elevated grant confers privilege
  ELEVATED_GRANT   The grant in REFERENCE_GROUP that confers privilege
  DIRECTORY_URL    Base URL of the membership/grant directory
  DIRECTORY_TOKEN  Bearer token for the directory (optional)
  POSTGRES_DSN     Connection string when -store=postgres
  AUDIT_BROKERS    Comma-separated Kafka brokers (omit to audit to log)
  AUDIT_TOPIC      Kafka topic for audit lines (default: donor-audit)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait for active
  requests (30s timeout), cancel pending join checks, close the store.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pledge/donor-engine/api"
	"github.com/pledge/donor-engine/directory/rest"
	"github.com/pledge/donor-engine/donor"
	memstore "github.com/pledge/donor-engine/donor/store"
	"github.com/pledge/donor-engine/notify"
	notifykafka "github.com/pledge/donor-engine/notify/kafka"
	"github.com/pledge/donor-engine/store/postgres"
	"github.com/pledge/donor-engine/store/sqlite"
)

// stores bundles the four storage interfaces plus the closer of
// whichever backend provides them.
type stores struct {
	ledger  donor.LedgerStore
	history donor.HistoryStore
	groups  donor.GroupConfigStore
	admins  donor.AdminStore
	close   func() error
}

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	storeKind := flag.String("store", "sqlite", "storage backend: sqlite | postgres | memory")
	dbPath := flag.String("db", "donor.db", "SQLite database path")
	envFile := flag.String("env", ".env", "env file to load (missing is fine)")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load %s: %v", *envFile, err)
	}

	st, err := openStores(*storeKind, *dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer st.close()

	dir := rest.NewClient(os.Getenv("DIRECTORY_URL"), os.Getenv("DIRECTORY_TOKEN"))
	auditor, closeAuditor := buildAuditor()
	defer closeAuditor()

	engine := donor.NewEngine(donor.NewLockRegistry(), st.ledger, st.history, st.groups, dir, auditor)
	checker := &donor.Checker{
		Owner:          donor.UserID(os.Getenv("OWNER_ID")),
		Admins:         st.admins,
		Directory:      dir,
		ReferenceGroup: donor.GroupID(os.Getenv("REFERENCE_GROUP")),
		ElevatedGrant:  donor.GrantID(os.Getenv("ELEVATED_GRANT")),
	}
	watch := donor.NewJoinWatcher(st.groups, st.ledger, dir)
	defer watch.Close()

	handler := api.NewHandler(engine, checker, st.admins, watch, auditor)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func openStores(kind, dbPath string) (stores, error) {
	switch kind {
	case "sqlite":
		st, err := sqlite.New(dbPath)
		if err != nil {
			return stores{}, err
		}
		return stores{ledger: st, history: st, groups: st, admins: st, close: st.Close}, nil
	case "postgres":
		dsn := os.Getenv("POSTGRES_DSN")
		if dsn == "" {
			return stores{}, fmt.Errorf("POSTGRES_DSN is required with -store=postgres")
		}
		st, err := postgres.New(dsn)
		if err != nil {
			return stores{}, err
		}
		return stores{ledger: st, history: st, groups: st, admins: st, close: st.Close}, nil
	case "memory":
		st := memstore.NewMemory()
		return stores{ledger: st, history: st, groups: st, admins: st, close: func() error { return nil }}, nil
	default:
		return stores{}, fmt.Errorf("unknown store %q", kind)
	}
}

// buildAuditor picks Kafka when brokers are configured, the process
// log otherwise. Audit delivery is best-effort either way. The
// returned closer flushes the Kafka writer on shutdown.
func buildAuditor() (donor.Auditor, func() error) {
	brokers := os.Getenv("AUDIT_BROKERS")
	if brokers == "" {
		return &notify.LogAuditor{Prefix: "[-] "}, func() error { return nil }
	}

	topic := os.Getenv("AUDIT_TOPIC")
	if topic == "" {
		topic = "donor-audit"
	}
	p := notifykafka.NewPublisher(strings.Split(brokers, ","), topic)
	return p, p.Close
}
