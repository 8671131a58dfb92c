package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/platform/logger"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/store"
	"github.com/kozaktomas/face-attendance/internal/store/postgres"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print template population statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	templates := store.New(
		cfg.FaceID.EmbeddingDim,
		postgres.NewTemplateRepository(pool),
		recognition.NewScorer(cfg.Scorer),
		logger.NewNop(),
	)
	if err := templates.Rehydrate(ctx); err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	stats := templates.Stats()
	fmt.Printf("Employees with templates: %d\n", stats.Employees)
	fmt.Printf("Total templates:          %d\n", stats.TotalTemplates)
	fmt.Printf("  Primary:                %d\n", stats.Primary)
	fmt.Printf("  Secondary:              %d\n", stats.Secondary)

	if len(stats.BySource) > 0 {
		fmt.Println("By source:")
		sources := make([]string, 0, len(stats.BySource))
		for s := range stats.BySource {
			sources = append(sources, string(s))
		}
		sort.Strings(sources)
		for _, s := range sources {
			fmt.Printf("  %-20s %d\n", s, stats.BySource[store.Source(s)])
		}
	}

	if len(stats.ByTemplateCnt) > 0 {
		fmt.Println("Employees by template count:")
		counts := make([]int, 0, len(stats.ByTemplateCnt))
		for c := range stats.ByTemplateCnt {
			counts = append(counts, c)
		}
		sort.Ints(counts)
		for _, c := range counts {
			fmt.Printf("  %d template(s): %d employee(s)\n", c, stats.ByTemplateCnt[c])
		}
	}
	return nil
}
