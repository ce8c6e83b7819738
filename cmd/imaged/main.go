package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"imaged/pkg/bus"
	"imaged/pkg/db"
	gos3 "imaged/pkg/s3"
	"imaged/pkg/telemetry"
	"imaged/services/catalog"
	"imaged/services/registry"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "imaged",
		Short:         "System image catalog service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newSeedCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			pool, err := db.Open(ctx, requireEnv("DATABASE_URL"))
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer pool.Close()
			return db.Migrate(ctx, pool)
		},
	}
}

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert starter system images when the catalog is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			orm, err := openORM(requireEnv("DATABASE_URL"))
			if err != nil {
				return err
			}
			return catalog.Seed(ctx, orm, nil)
		},
	}
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appName := getEnv("APP_NAME", "system-image")

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, appName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", appName, err)
		}
	}()

	dsn := requireEnv("DATABASE_URL")
	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	orm, err := openORM(dsn)
	if err != nil {
		return err
	}

	eventBus, err := bus.New(getEnv("NATS_URL", nats.DefaultURL), nats.Name(appName))
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer eventBus.Close()

	s3Client, err := gos3.NewClientFromEnv()
	if err != nil {
		return fmt.Errorf("init s3 client: %w", err)
	}

	store := &catalog.Store{DB: pool, ORM: orm, S3: s3Client, Bus: eventBus}
	svc, err := catalog.New(store, catalog.Config{ServiceName: appName}, logger)
	if err != nil {
		return fmt.Errorf("init catalog: %w", err)
	}

	if seedOnStart, _ := strconv.ParseBool(os.Getenv("SEED_ON_START")); seedOnStart {
		if err := catalog.Seed(ctx, orm, logger); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
	}

	routes, err := svc.Routes()
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", routes)

	addr := getEnv("HTTP_ADDR", ":5001")

	if eurekaURL := os.Getenv("EUREKA_URL"); eurekaURL != "" {
		port, err := listenPort(addr)
		if err != nil {
			return err
		}
		reg, err := registry.New(registry.Config{
			URL:          eurekaURL,
			AppName:      appName,
			InstanceHost: os.Getenv("INSTANCE_HOST"),
			Port:         port,
		}, logger)
		if err != nil {
			return fmt.Errorf("init registry: %w", err)
		}
		go func() {
			if err := reg.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("ERROR registry: %v", err)
			}
		}()
	}

	server := &http.Server{
		Addr:    addr,
		Handler: middleware(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: server shutdown error: %v\n", appName, err)
		}
	}()

	logger.Printf("INFO listening on %s", server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("ERROR server failed: %v", err)
		return err
	}
	return nil
}

func openORM(dsn string) (*gorm.DB, error) {
	orm, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open orm: %w", err)
	}
	return orm, nil
}

func listenPort(addr string) (int, error) {
	_, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse HTTP_ADDR %q: %w", addr, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return 0, fmt.Errorf("parse HTTP_ADDR port %q: %w", rawPort, err)
	}
	return port, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "error: %s is required\n", key)
		os.Exit(1)
	}
	return v
}
