package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/faceid"
	"github.com/kozaktomas/face-attendance/internal/platform/logger"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/store"
	"github.com/kozaktomas/face-attendance/internal/store/postgres"
	"github.com/kozaktomas/face-attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the attendance API server.
The server exposes the kiosk recognition endpoint and the admin API for
managing employees and face templates. Templates are loaded from
PostgreSQL into memory on startup.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("index-rebuild-minutes", 10, "Interval between candidate index rebuilds")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

// startMaintenance schedules the periodic candidate index rebuild and the
// hourly population stats log line. The returned scheduler is already running.
func startMaintenance(
	templates *store.Store, index *store.CandidateIndex, log *logger.Logger, rebuildMinutes int,
) (*gocron.Scheduler, error) {
	rebuild := func() {
		snapshot, err := templates.Snapshot(context.Background())
		if err != nil {
			log.Warn("candidate index rebuild failed", "error", err)
			return
		}
		index.Rebuild(snapshot)
		log.Debug("candidate index rebuilt", "templates", index.Count())
	}
	rebuild()

	scheduler := gocron.NewScheduler(time.UTC)
	if _, err := scheduler.Every(rebuildMinutes).Minutes().Do(rebuild); err != nil {
		return nil, fmt.Errorf("scheduling index rebuild: %w", err)
	}
	if _, err := scheduler.Every(1).Hour().Do(func() {
		stats := templates.Stats()
		log.Info("template population",
			"employees", stats.Employees,
			"templates", stats.TotalTemplates,
			"primary", stats.Primary,
			"secondary", stats.Secondary,
		)
	}); err != nil {
		return nil, fmt.Errorf("scheduling stats report: %w", err)
	}
	scheduler.StartAsync()
	return scheduler, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.FaceID.URL == "" {
		return errors.New("FACEID_URL environment variable is required")
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	if err := pool.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	scorer := recognition.NewScorer(cfg.Scorer)
	templates := store.New(cfg.FaceID.EmbeddingDim, postgres.NewTemplateRepository(pool), scorer, log)
	if err := templates.Rehydrate(ctx); err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}
	log.Info("template store loaded", "templates", templates.Count())

	model := faceid.New(cfg.FaceID.URL, time.Duration(cfg.FaceID.TimeoutSeconds)*time.Second)
	pipeline := recognition.NewPipeline(templates, model, model, model, cfg.Recognition, log)
	defer pipeline.Close()

	index := store.NewCandidateIndex()
	scheduler, err := startMaintenance(templates, index, log, mustGetInt(cmd, "index-rebuild-minutes"))
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, port, host, web.Deps{
		Pipeline:  pipeline,
		Store:     templates,
		Index:     index,
		Model:     model,
		Employees: postgres.NewEmployeeRepository(pool),
		Log:       log,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("error during shutdown", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
