// Command migrate applies (or rolls back) the orchestration core's schema
// against the database named by the usual config.Config env vars. It
// doesn't participate in orchestratord's own startup — schema changes are
// applied out-of-band, the way a deploy pipeline runs them.
package main

import (
	"embed"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lyzr/orchestrator/common/config"
)

//go:embed sql
var migrationsFS embed.FS

func main() {
	direction := flag.String("direction", "up", "up or down")
	flag.Parse()

	cfg, err := config.Load("migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	source, err := iofs.New(migrationsFS, "sql")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open embedded migrations: %v\n", err)
		os.Exit(1)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.DatabaseURL())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := run(m, *direction); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("migration complete")
}

func run(m *migrate.Migrate, direction string) error {
	switch direction {
	case "up":
		return m.Up()
	case "down":
		return m.Steps(-1)
	default:
		return fmt.Errorf("unsupported direction %q (use up or down)", direction)
	}
}
