package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"opsboard.org/internal/audit"
	"opsboard.org/internal/auth"
	"opsboard.org/internal/httpapi"
	"opsboard.org/internal/obs"
	"opsboard.org/internal/store/memory"
	"opsboard.org/internal/store/pg"
	"opsboard.org/internal/stream"
)

// Overridden at build time via -ldflags.
var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("OPSBOARD_AUTH_SECRET")
	if secret == "" {
		log.Fatal("OPSBOARD_AUTH_SECRET is required")
	}

	addr := os.Getenv("OPSBOARD_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	ctx := context.Background()

	// Postgres when a DSN is configured, in-memory otherwise. The in-memory
	// store always gets the demo accounts so the API is usable out of the box.
	var (
		store auth.Store
		db    *sql.DB
	)
	if dsn := os.Getenv("OPSBOARD_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		db = pgStore.DB()
	} else {
		store = memory.New()
	}

	st := stream.New()
	recorder := audit.NewRecorder(store.Audit(ctx), audit.WithPublisher(st))

	rbac, err := auth.NewRBACService(store, auth.WithRBACAuditSink(recorder))
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}
	if err := rbac.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("ensure builtins: %v", err)
	}
	if db == nil || os.Getenv("OPSBOARD_SEED_DEMO") == "1" {
		if err := seedDemoUsers(ctx, store, rbac); err != nil {
			log.Fatalf("seed demo users: %v", err)
		}
	}

	sessions, err := auth.NewSessionManager(store, secret, auth.WithAuditSink(recorder))
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(probe, version, sessions, rbac, recorder, st)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcSrv *grpc.Server
	if grpcAddr := os.Getenv("OPSBOARD_GRPC_ADDR"); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, httpapi.NewGRPCHealthServer(probe))
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
		log.Printf("gRPC health on %s", grpcAddr)
	}

	log.Printf("Starting opsboard-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	log.Println("Stopped")
}

type demoAccount struct {
	email       string
	displayName string
	role        string
	department  string
}

var demoAccounts = []demoAccount{
	{email: "admin@example.com", displayName: "Admin User", role: auth.RoleAdmin},
	{email: "manager@example.com", displayName: "Manager User", role: auth.RoleManager, department: "Engineering"},
	{email: "user@example.com", displayName: "Regular User", role: auth.RoleUser, department: "Engineering"},
}

// seedDemoUsers creates the well-known demo accounts if they do not exist yet.
func seedDemoUsers(ctx context.Context, store auth.Store, rbac *auth.RBACService) error {
	password := os.Getenv("OPSBOARD_DEMO_PASSWORD")
	if password == "" {
		password = "password"
	}
	for _, acc := range demoAccounts {
		if _, err := store.Users(ctx).FindByEmail(ctx, acc.email); err == nil {
			continue
		}
		role, err := store.Roles(ctx).FindByName(ctx, acc.role)
		if err != nil {
			return err
		}
		if _, err := rbac.CreateUser(ctx, auth.Principal{}, auth.NewUser{
			Email:       acc.email,
			DisplayName: acc.displayName,
			Password:    password,
			RoleID:      role.ID,
			Department:  acc.department,
		}, auth.RequestMeta{}); err != nil {
			return err
		}
	}
	return nil
}
