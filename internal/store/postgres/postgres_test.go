//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/directory"
	"github.com/kozaktomas/face-attendance/internal/store"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func testEmbedding(seed float32) []float32 {
	emb := make([]float32, 512)
	for i := range emb {
		emb[i] = (float32(i) + seed) / 512.0
	}
	return emb
}

func TestTemplateRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	employees := NewEmployeeRepository(pool)
	templates := NewTemplateRepository(pool)

	if err := employees.Upsert(ctx, &directory.Employee{
		ID: "emp-1", FullName: "Jan Novák", NormalizedName: "jan novak", Active: true,
	}); err != nil {
		t.Fatalf("Failed to upsert employee: %v", err)
	}

	t.Run("UpsertAndLoad", func(t *testing.T) {
		tpl := &store.Template{
			EmployeeID:      "emp-1",
			Slot:            0,
			Embedding:       testEmbedding(0),
			QualityScore:    0.9,
			ConfidenceScore: 0.95,
			CreatedFrom:     store.SourceAdminUpload,
			CreatedAt:       time.Now().UTC(),
		}
		if err := templates.Upsert(ctx, tpl); err != nil {
			t.Fatalf("Failed to upsert template: %v", err)
		}

		got, err := templates.LoadEmployee(ctx, "emp-1")
		if err != nil {
			t.Fatalf("Failed to load employee templates: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("Expected 1 template, got %d", len(got))
		}
		if got[0].Slot != 0 || got[0].QualityScore != 0.9 {
			t.Errorf("Unexpected template: slot=%d quality=%f", got[0].Slot, got[0].QualityScore)
		}
		if len(got[0].Embedding) != 512 {
			t.Errorf("Expected 512 dimensions, got %d", len(got[0].Embedding))
		}
	})

	t.Run("UpsertOverwrites", func(t *testing.T) {
		tpl := &store.Template{
			EmployeeID:      "emp-1",
			Slot:            0,
			Embedding:       testEmbedding(7),
			QualityScore:    0.7,
			ConfidenceScore: 0.8,
			CreatedFrom:     store.SourceAdminUpload,
			CreatedAt:       time.Now().UTC(),
		}
		if err := templates.Upsert(ctx, tpl); err != nil {
			t.Fatalf("Failed to overwrite template: %v", err)
		}

		count, err := templates.Count(ctx)
		if err != nil {
			t.Fatalf("Failed to count: %v", err)
		}
		if count != 1 {
			t.Errorf("Expected 1 template after overwrite, got %d", count)
		}
	})

	t.Run("UpdateMatchStats", func(t *testing.T) {
		now := time.Now().UTC()
		tpl := &store.Template{
			EmployeeID:         "emp-1",
			Slot:               0,
			MatchCount:         3,
			AvgMatchConfidence: 0.87,
			LastMatched:        &now,
		}
		if err := templates.UpdateMatchStats(ctx, tpl); err != nil {
			t.Fatalf("Failed to update match stats: %v", err)
		}

		got, err := templates.LoadEmployee(ctx, "emp-1")
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if got[0].MatchCount != 3 {
			t.Errorf("Expected match count 3, got %d", got[0].MatchCount)
		}
		if got[0].LastMatched == nil {
			t.Error("Expected last matched timestamp")
		}
	})

	t.Run("UpdateMatchStatsMissing", func(t *testing.T) {
		tpl := &store.Template{EmployeeID: "emp-1", Slot: 3, MatchCount: 1}
		if err := templates.UpdateMatchStats(ctx, tpl); !errors.Is(err, store.ErrTemplateNotFound) {
			t.Errorf("Expected ErrTemplateNotFound, got %v", err)
		}
	})

	t.Run("DeleteSlot", func(t *testing.T) {
		tpl := &store.Template{
			EmployeeID:  "emp-1",
			Slot:        1,
			Embedding:   testEmbedding(3),
			CreatedFrom: store.SourceAttendanceLearned,
			CreatedAt:   time.Now().UTC(),
		}
		if err := templates.Upsert(ctx, tpl); err != nil {
			t.Fatalf("Failed to upsert: %v", err)
		}
		if err := templates.DeleteSlot(ctx, "emp-1", 1); err != nil {
			t.Fatalf("Failed to delete slot: %v", err)
		}
		if err := templates.DeleteSlot(ctx, "emp-1", 1); !errors.Is(err, store.ErrTemplateNotFound) {
			t.Errorf("Expected ErrTemplateNotFound on double delete, got %v", err)
		}
	})

	t.Run("CascadeOnEmployeeDelete", func(t *testing.T) {
		if err := employees.Upsert(ctx, &directory.Employee{
			ID: "emp-2", FullName: "Marie Dvořáková", NormalizedName: "marie dvorakova", Active: true,
		}); err != nil {
			t.Fatalf("Failed to upsert employee: %v", err)
		}
		tpl := &store.Template{
			EmployeeID:  "emp-2",
			Slot:        0,
			Embedding:   testEmbedding(5),
			CreatedFrom: store.SourceAdminUpload,
			CreatedAt:   time.Now().UTC(),
		}
		if err := templates.Upsert(ctx, tpl); err != nil {
			t.Fatalf("Failed to upsert: %v", err)
		}

		if err := employees.Delete(ctx, "emp-2"); err != nil {
			t.Fatalf("Failed to delete employee: %v", err)
		}
		got, err := templates.LoadEmployee(ctx, "emp-2")
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Expected cascade delete, got %d templates", len(got))
		}
	})
}

func TestEmployeeRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewEmployeeRepository(pool)

	t.Run("UpsertAndGet", func(t *testing.T) {
		e := &directory.Employee{
			ID:             "emp-10",
			FullName:       "Jiří Šťastný",
			NormalizedName: "jiri stastny",
			Department:     "engineering",
			Active:         true,
		}
		if err := repo.Upsert(ctx, e); err != nil {
			t.Fatalf("Failed to upsert: %v", err)
		}

		got, err := repo.Get(ctx, "emp-10")
		if err != nil {
			t.Fatalf("Failed to get: %v", err)
		}
		if got.FullName != "Jiří Šťastný" || got.NormalizedName != "jiri stastny" {
			t.Errorf("Unexpected employee: %+v", got)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := repo.Get(ctx, "ghost"); !errors.Is(err, ErrEmployeeNotFound) {
			t.Errorf("Expected ErrEmployeeNotFound, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		if err := repo.Upsert(ctx, &directory.Employee{
			ID: "emp-11", FullName: "Anna Malá", NormalizedName: "anna mala", Active: false,
		}); err != nil {
			t.Fatalf("Failed to upsert: %v", err)
		}

		list, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(list) != 2 {
			t.Errorf("Expected 2 employees, got %d", len(list))
		}
	})
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	applied, err := pool.MigrationsApplied(context.Background())
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}

	expected := []string{
		"001_create_employees.sql",
		"002_create_face_templates.sql",
	}
	if len(applied) != len(expected) {
		t.Fatalf("Expected %d migrations, got %d", len(expected), len(applied))
	}
	for i, want := range expected {
		if applied[i] != want {
			t.Errorf("Migration %d: expected %q, got %q", i, want, applied[i])
		}
	}
}
