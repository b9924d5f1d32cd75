package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hotel7days/concierge/backend/internal/config"
	"github.com/hotel7days/concierge/backend/internal/handler"
	"github.com/hotel7days/concierge/backend/internal/hub"
	chatservice "github.com/hotel7days/concierge/backend/internal/service/chat"
	"github.com/hotel7days/concierge/backend/internal/service/responder"
	"github.com/hotel7days/concierge/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	st, err := newStore(cfg.Store)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("warning: closing store: %v", err)
		}
	}()

	var rules map[string]string
	if cfg.Responder.Enabled {
		rules = responder.LoadRules(cfg.Responder.RulesPath)
		log.Printf("auto-responder enabled with %d trigger(s)", len(rules))
	} else {
		log.Println("auto-responder disabled by configuration")
	}
	engine := responder.New(rules)

	connHub := hub.New(cfg.Hub.WriteTimeout)

	// Translation and profile collaborators are deployed separately; the
	// service runs without them.
	svc := chatservice.NewService(st, connHub, engine, nil, nil)

	router := handler.NewRouter(svc, cfg.Server.CORSOrigins, cfg.Hub.WriteTimeout)

	startServer(ctx, cfg.Server, router)
}

func newStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Printf("using sqlite store at %s", cfg.SQLitePath)
		return store.NewSQLite(cfg.SQLitePath)
	default:
		log.Println("using in-memory store")
		return store.NewMemory(), nil
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("concierge backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
