// Package testhelpers provides utilities for integration-testing testdeck-engine components.
package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/database"
)

// PostgresImage is the stock image used for integration tests.
const PostgresImage = "postgres:16-alpine"

// EngineDB holds a migrated database shared by every test in the run.
type EngineDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedEngineDB     *EngineDB
	sharedEngineDBOnce sync.Once
	sharedEngineDBErr  error
)

// GetEngineDB returns a shared PostgreSQL container with migrations applied.
// The container is created once and reused across all tests in the run.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedEngineDBOnce.Do(func() {
		sharedEngineDB, sharedEngineDBErr = setupEngineDB()
	})

	if sharedEngineDBErr != nil {
		t.Fatalf("Failed to setup engine database: %v", sharedEngineDBErr)
	}

	return sharedEngineDB
}

func setupEngineDB() (*EngineDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "testdeck_test",
			"POSTGRES_USER":     "testdeck",
			"POSTGRES_PASSWORD": "test_password",
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
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://testdeck:test_password@%s:%s/testdeck_test?sslmode=disable",
		host, port.Port())

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine database: %w", err)
	}

	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, MigrationsPath(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &EngineDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// MigrationsPath returns the absolute path of the repository's migrations directory.
func MigrationsPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// CreateProject inserts a project and registers cleanup of everything it owns.
func (e *EngineDB) CreateProject(t *testing.T, name string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	projectID := uuid.New()
	_, err := e.DB.Pool.Exec(ctx,
		`INSERT INTO projects (id, name, path) VALUES ($1, $2, $3)`,
		projectID, name, "projects/"+projectID.String())
	if err != nil {
		t.Fatalf("failed to create test project: %v", err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = e.DB.Pool.Exec(ctx, `DELETE FROM ai_generations WHERE project_id = $1`, projectID)
		_, _ = e.DB.Pool.Exec(ctx, `DELETE FROM ai_suggestions WHERE project_id = $1`, projectID)
		_, _ = e.DB.Pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	})
	return projectID
}

// ProjectContext returns a context scoped to projectID. The scope is closed on cleanup.
func (e *EngineDB) ProjectContext(t *testing.T, projectID uuid.UUID) context.Context {
	t.Helper()

	scope, err := e.DB.WithTenant(context.Background(), projectID)
	if err != nil {
		t.Fatalf("failed to create tenant scope: %v", err)
	}
	t.Cleanup(scope.Close)

	return database.SetTenantScope(context.Background(), scope)
}

// GlobalContext returns a context with an unscoped connection.
func (e *EngineDB) GlobalContext(t *testing.T) context.Context {
	t.Helper()

	scope, err := e.DB.WithoutTenant(context.Background())
	if err != nil {
		t.Fatalf("failed to create global scope: %v", err)
	}
	t.Cleanup(scope.Close)

	return database.SetTenantScope(context.Background(), scope)
}
