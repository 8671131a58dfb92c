package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/directory"
	"github.com/kozaktomas/face-attendance/internal/faceid"
	"github.com/kozaktomas/face-attendance/internal/platform/logger"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/store"
	"github.com/kozaktomas/face-attendance/internal/store/postgres"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <folder-path> [folder-path...]",
	Short: "Bulk enroll primary face templates from photo folders",
	Long: `Bulk enroll primary face templates from one or more folders.

Each photo file name (without extension) is the employee ID, e.g.
emp-0042.jpg enrolls employee emp-0042. Photos replace any existing
primary template; secondary templates are left untouched.

By default, only files in the specified folders are processed
(non-recursive). Use -r to search subdirectories too.

Example:
  face-attendance enroll /path/to/badge-photos
  face-attendance enroll -r --workers 8 /path/to/badge-photos`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.Flags().BoolP("recursive", "r", false, "Search for photos recursively in subdirectories")
	enrollCmd.Flags().Int("workers", 4, "Number of concurrent enrollment workers")
	enrollCmd.Flags().Bool("create-missing", false, "Create roster entries for employee IDs not in the roster")
}

// isPhotoFile checks if a file has an image extension the frame decoder handles.
func isPhotoFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".bmp":
		return true
	}
	return false
}

// collectPhotos gathers photo paths from the given folders.
func collectPhotos(folders []string, recursive bool) ([]string, error) {
	var paths []string
	for _, folder := range folders {
		info, err := os.Stat(folder)
		if err != nil {
			return nil, fmt.Errorf("cannot access folder %s: %w", folder, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", folder)
		}

		if recursive {
			err := filepath.WalkDir(folder, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isPhotoFile(d.Name()) {
					paths = append(paths, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("cannot walk folder %s: %w", folder, err)
			}
		} else {
			entries, err := os.ReadDir(folder)
			if err != nil {
				return nil, fmt.Errorf("cannot read folder %s: %w", folder, err)
			}
			for _, entry := range entries {
				if !entry.IsDir() && isPhotoFile(entry.Name()) {
					paths = append(paths, filepath.Join(folder, entry.Name()))
				}
			}
		}
	}
	return paths, nil
}

// enrollOne extracts an embedding from a photo and stores it as the
// employee's primary template.
func enrollOne(
	ctx context.Context, path string, model *faceid.Client, templates *store.Store,
) error {
	employeeID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading photo: %w", err)
	}
	frame, err := faceid.NormalizeFrame(data)
	if err != nil {
		return fmt.Errorf("decoding photo: %w", err)
	}

	embedding, err := model.Extract(ctx, frame)
	if err != nil {
		if errors.Is(err, faceid.ErrNoFace) {
			return errors.New("no face detected")
		}
		return fmt.Errorf("extracting embedding: %w", err)
	}
	quality, err := model.Quality(ctx, frame)
	if err != nil {
		quality = 0
	}

	_, err = templates.UpsertPrimary(ctx, employeeID, embedding, quality, 1.0, store.SourceRegistration)
	if err != nil {
		return fmt.Errorf("storing template: %w", err)
	}
	return nil
}

// ensureRosterEntries creates placeholder roster entries for IDs that do not
// exist yet. The full name defaults to the employee ID until the next HR sync.
func ensureRosterEntries(ctx context.Context, roster *postgres.EmployeeRepository, paths []string) error {
	for _, path := range paths {
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if _, err := roster.Get(ctx, id); err == nil {
			continue
		} else if !errors.Is(err, postgres.ErrEmployeeNotFound) {
			return fmt.Errorf("checking roster for %s: %w", id, err)
		}
		e := &directory.Employee{
			ID:             id,
			FullName:       id,
			NormalizedName: directory.NormalizeName(id),
			Active:         true,
		}
		if err := roster.Upsert(ctx, e); err != nil {
			return fmt.Errorf("creating roster entry for %s: %w", id, err)
		}
	}
	return nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
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

	paths, err := collectPhotos(args, mustGetBool(cmd, "recursive"))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Println("No photo files found in the specified folders.")
		return nil
	}
	fmt.Printf("Found %d photo(s) to enroll from %d folder(s)\n", len(paths), len(args))

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

	if mustGetBool(cmd, "create-missing") {
		if err := ensureRosterEntries(ctx, postgres.NewEmployeeRepository(pool), paths); err != nil {
			return err
		}
	}

	model := faceid.New(cfg.FaceID.URL, time.Duration(cfg.FaceID.TimeoutSeconds)*time.Second)

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	var mu sync.Mutex
	var failures []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mustGetInt(cmd, "workers"))
	for _, path := range paths {
		g.Go(func() error {
			if err := enrollOne(gctx, path, model, templates); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %v", filepath.Base(path), err))
				mu.Unlock()
			}
			bar.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Println()

	for _, msg := range failures {
		fmt.Printf("Failed: %s\n", msg)
	}
	fmt.Printf("Enrolled %d photo(s), %d failure(s)\n", len(paths)-len(failures), len(failures))

	if len(failures) == len(paths) {
		return errors.New("no photos were enrolled successfully")
	}
	return nil
}
