package cli

import (
	"fmt"

	"assessment-attempt-service/internal/config"
	"assessment-attempt-service/internal/infra/memory"
	pgstore "assessment-attempt-service/internal/infra/postgres"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewSeedCmd upserts the catalog seed file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load assessments from a YAML file into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			defer logger.Sync() //nolint:errcheck
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			if file == "" {
				file = cfg.Catalog.SeedFile
			}
			seed, err := memory.LoadSeedFile(file)
			if err != nil {
				return err
			}
			assessments, err := seed.LoadAssessments(cmd.Context())
			if err != nil {
				return err
			}

			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			loader := pgstore.NewAssessmentLoader(pool)
			for _, a := range assessments {
				if err := loader.SaveAssessment(cmd.Context(), a); err != nil {
					return fmt.Errorf("seed %s: %w", a.ID, err)
				}
			}
			logger.Info("assessments seeded", zap.String("file", file), zap.Int("count", len(assessments)))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "seed file (defaults to catalog.seed_file)")
	return cmd
}
