package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"storyhub.org/internal/ability"
	"storyhub.org/internal/auth"
	"storyhub.org/internal/httpapi"
	"storyhub.org/internal/obs"
)

var version = "1.0.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("HUB_COMMIT"))

	dsn := os.Getenv("HUB_PG_DSN")
	if dsn == "" {
		log.Fatal("missing HUB_PG_DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	signer, err := auth.NewSigner(auth.TokenConfig{
		AccessSecret:  []byte(os.Getenv("HUB_ACCESS_SECRET")),
		RefreshSecret: []byte(os.Getenv("HUB_REFRESH_SECRET")),
		AccessTTL:     envDuration("HUB_ACCESS_TTL"),
		RefreshTTL:    envDuration("HUB_REFRESH_TTL"),
		Issuer:        os.Getenv("HUB_ISSUER"),
	})
	if err != nil {
		log.Fatalf("token signer: %v", err)
	}

	store := auth.NewPGStore(db)
	svc := auth.NewService(store, signer, auth.NewDigest(0))
	engine := ability.NewEngine(store)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, engine, store)

	addr := os.Getenv("HUB_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting storyhub-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("Stopped")
}

func envDuration(key string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return d
}
