//go:build integration

package repositories

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *database.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("warden"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	code := func() int {
		defer func() { _ = container.Terminate(ctx) }()

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to get connection string: %v\n", err)
			return 1
		}

		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
			return 1
		}

		testDB = database.NewFromPool(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
		defer testDB.Close()

		if err := testDB.RunMigrations(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
			return 1
		}

		return m.Run()
	}()

	os.Exit(code)
}

func createTestUser(t *testing.T, otpEnabled bool) *models.User {
	t.Helper()

	user, err := NewUserRepository(testDB).Create(context.Background(), &models.User{
		Email:        fmt.Sprintf("user-%d@example.com", time.Now().UnixNano()),
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplacehold",
		Name:         "Test User",
		OTPEnabled:   otpEnabled,
	})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}
