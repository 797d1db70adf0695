package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/nail-dp-dev/naildp-realtime/internal/chat"
	"github.com/nail-dp-dev/naildp-realtime/internal/config"
	"github.com/nail-dp-dev/naildp-realtime/internal/notification"
	"github.com/nail-dp-dev/naildp-realtime/internal/social"
	"github.com/nail-dp-dev/naildp-realtime/pkg/database"
	pkglog "github.com/nail-dp-dev/naildp-realtime/pkg/log"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			pkglog.Init(cfg.Log)

			db, err := database.New(&cfg.Database)
			if err != nil {
				return err
			}
			defer closeDB(db)

			if err := migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration completed")
			return nil
		},
	}
}

// Models returns every persisted model in migration order.
func Models() []interface{} {
	models := []interface{}{&notification.Notification{}}
	models = append(models, social.Models()...)
	return append(models, chat.Models()...)
}

func migrate(db *gorm.DB) error {
	if err := database.AutoMigrate(db, Models()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	l := pkglog.L()
	l.Info().Int("models", len(Models())).Msg("database migration completed")
	return nil
}

func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Msg("error closing database")
	}
}
