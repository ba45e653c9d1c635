package cli

import (
	"database/sql"
	"fmt"
	"log"

	"certquiz-service/internal/app"
	"certquiz-service/internal/config"
	"certquiz-service/internal/domain"
	pginfra "certquiz-service/internal/infra/postgres"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// NewSweepCmd runs a single expiry sweep and exits. Useful when the service
// runs without the in-process sweeper, e.g. behind an external scheduler.
func NewSweepCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire timed-out sessions once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}

			sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
			db := bun.NewDB(sqldb, pgdialect.New())
			defer db.Close()

			sessions := pginfra.NewSessionRepository(db, cfg.Quiz.SnapshotInterval)
			// The sweep never draws questions, so no bank is wired.
			service := app.NewSessionService(sessions, nil, domain.SystemClock{})

			swept, err := service.SweepExpired(cmd.Context(), limit)
			if err != nil {
				return err
			}
			log.Printf("expired %d timed-out sessions", swept)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max sessions to expire in this run")
	return cmd
}
