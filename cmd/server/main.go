package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/darkden-lab/postfeed/internal/config"
	"github.com/darkden-lab/postfeed/internal/db"
	"github.com/darkden-lab/postfeed/internal/graph"
	"github.com/darkden-lab/postfeed/internal/posts"
	"github.com/darkden-lab/postfeed/internal/pubsub"
	"github.com/darkden-lab/postfeed/internal/ws"
)

func main() {
	cfg := config.Load()

	// Store
	ctx := context.Background()
	var store posts.Store
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("WARNING: database connection failed: %v (using in-memory store)", err)
		store = posts.NewMemoryStore()
	} else {
		if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			log.Printf("WARNING: migrations failed: %v", err)
		}
		store = posts.NewPgStore(database.Pool)
	}

	// Event broker
	broker := pubsub.NewBroker(pubsub.WithMaxPending(cfg.StreamMaxPending))

	// Kafka change-feed mirror (optional)
	mirror, err := pubsub.NewMirror(cfg)
	if err != nil {
		log.Printf("WARNING: kafka mirror setup failed: %v (mirror disabled)", err)
	}
	if mirror != nil {
		broker.OnPublish(mirror.Mirror)
	}

	// Schema execution engine
	engine, err := graph.NewEngine(store, broker)
	if err != nil {
		log.Fatalf("Failed to build GraphQL schema: %v", err)
	}

	// WebSocket connection manager
	manager := ws.NewManager(engine, ws.OptionsFromConfig(cfg))

	// gRPC health
	healthSrv := health.NewServer()
	grpcServer := startGRPCServer(cfg, healthSrv)

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        newRouter(cfg, engine, manager),
		ReadTimeout:    15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("Shutting down server...")
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("WARNING: HTTP shutdown: %v", err)
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Printf("WARNING: websocket drain incomplete: %v", err)
		}
		broker.Shutdown()
		if mirror != nil {
			if err := mirror.Close(); err != nil {
				log.Printf("WARNING: kafka mirror close: %v", err)
			}
		}
		grpcServer.GracefulStop()
		if database != nil {
			database.Close()
		}
	}()

	log.Printf("Starting server on :%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed to start: %v", err)
	}

	<-stopped
	log.Println("Server stopped")
}

// startGRPCServer serves the standard health service and reports SERVING
// until healthSrv.Shutdown is called.
func startGRPCServer(cfg *config.Config, healthSrv *health.Server) *grpc.Server {
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatalf("Failed to listen on gRPC port %s: %v", cfg.GRPCPort, err)
	}

	go func() {
		log.Printf("gRPC health server listening on :%s", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("gRPC server stopped: %v", err)
		}
	}()
	return grpcServer
}
