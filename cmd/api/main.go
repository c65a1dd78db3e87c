package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schoolgate.org/internal/audit"
	"schoolgate.org/internal/auth"
	"schoolgate.org/internal/authz"
	"schoolgate.org/internal/httpapi"
	"schoolgate.org/internal/identity"
	"schoolgate.org/internal/lockout"
	"schoolgate.org/internal/obs"
	"schoolgate.org/internal/session"
	"schoolgate.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("SCHOOLGATE_PG_DSN")
	if dsn == "" {
		log.Fatal("missing SCHOOLGATE_PG_DSN")
	}
	secret := os.Getenv("SCHOOLGATE_AUTH_SECRET")
	if secret == "" {
		log.Fatal("missing SCHOOLGATE_AUTH_SECRET")
	}
	addr := os.Getenv("SCHOOLGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	// The store is the only lazy dependency; fail now rather than on the
	// first login.
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		cancelPing()
		log.Fatalf("ping db: %v", err)
	}
	cancelPing()

	signer, err := session.NewTokenSigner(secret, time.Now)
	if err != nil {
		log.Fatalf("token signer: %v", err)
	}

	recorder := audit.NewRecorder(store)

	sessionOpts := []session.Option{
		session.WithSecureCookies(os.Getenv("SCHOOLGATE_ENV") == "prod"),
	}
	if raw := os.Getenv("SCHOOLGATE_SESSION_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse SCHOOLGATE_SESSION_TTL: %v", err)
		}
		sessionOpts = append(sessionOpts, session.WithTTL(ttl))
	}
	sessions, err := session.NewManager(store, signer, recorder, sessionOpts...)
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}

	guard := lockout.NewGuard(store)
	resolver := identity.NewResolver(store)

	svc, err := auth.NewService(resolver, sessions, guard, recorder)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, svc, sessions, authz.Default())

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Hourly sweep of expired session rows. Validation never depends on
	// this; it only keeps the table small.
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n, err := sessions.Sweep(sweepCtx); err == nil && n > 0 {
					log.Printf("swept %d expired sessions", n)
				}
			}
		}
	}()

	log.Printf("Starting schoolgate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancelSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = store.Close()
	log.Println("Stopped")
}
