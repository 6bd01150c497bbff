package main

import (
	"fmt"
	"net"
	"os"

	"github.com/de-tools/identity-atlas/pkg/runtime/wiring"
	"github.com/de-tools/identity-atlas/pkg/server"
	"github.com/de-tools/identity-atlas/pkg/services/config"
	"github.com/de-tools/identity-atlas/pkg/services/schedule"
	schedulestore "github.com/de-tools/identity-atlas/pkg/store/duckdb/schedule"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const defaultDbPath = "identity-atlas.db"

var (
	settingsPath string
	profilesPath string
	extended     bool
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "web",
		Short: "Start the web server for Identity Atlas",
		RunE:  runServer,
	}

	rootCmd.Flags().StringVarP(&settingsPath, "config", "c", "", "Path to the audit settings file")
	rootCmd.Flags().StringVarP(&profilesPath, "profiles", "p", "", "Path to the ini file holding connection profiles")
	rootCmd.Flags().BoolVar(&extended, "extended", false, "Enable the supplementary rule set")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Error loading .env file: %v\n", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(cmd.Context())

	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	// History endpoints need a report store.
	if settings.Output.DuckDBPath == "" {
		settings.Output.DuckDBPath = defaultDbPath
	}

	app, err := wiring.Build(ctx, wiring.Options{
		Settings:     settings,
		ProfilesPath: profilesPath,
		Extended:     extended,
	})
	if err != nil {
		return fmt.Errorf("failed to build audit service: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to release resources")
		}
	}()

	scheduleStore, err := schedulestore.NewStore(app.DB())
	if err != nil {
		return fmt.Errorf("failed to create schedule store: %w", err)
	}
	scheduler := schedule.NewController(app.Service, scheduleStore, schedule.DefaultSettings())
	if err := scheduler.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	defer scheduler.Shutdown()

	logger.Info().Strs("platforms", app.Service.Platforms()).Int("rules", len(app.Service.Rules())).Msg("audit service ready")

	host := os.Getenv("SERVER_HOST")
	port := os.Getenv("SERVER_PORT")

	if host == "" || port == "" {
		return fmt.Errorf("missing SERVER_HOST or SERVER_PORT configuration")
	}

	api := server.NewWebAPI(server.Config{
		Addr: net.JoinHostPort(host, port),
		Dependencies: server.Dependencies{
			Auditor:   app.Service,
			History:   app.History,
			Scheduler: scheduler,
			Logger:    logger,
		},
	})
	return api.Start()
}
