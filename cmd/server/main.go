/*
main.go - Application entry point

PURPOSE:
  Starts the questpoints server and hosts the admin commands that work on
  the database directly. Handles configuration, dependency injection, and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults < YAML file < QUESTPOINTS_ env < flags)
  2. Initialize SQLite store
  3. Create API handler with the configured funding mode
  4. Configure HTTP router
  5. Start the ledger reporter
  6. Start server with graceful shutdown

COMMANDS:
  questpoints                    serve the API
  questpoints unlock <task-id>   release a task locked by a redemption
  questpoints balance            print the ledger summary

FLAGS:
  --config   YAML config file (default: questpoints.yaml, optional)
  --port     HTTP server port (default: 8080)
  --db       SQLite database path (default: questpoints.db)
             Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reporter and close the database connection

EXAMPLES:
  questpoints --db=./data/quest.db
  QUESTPOINTS_REDEMPTION_FUNDING=partial questpoints --port=3000
  questpoints unlock 6f1c... --db=./data/quest.db

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/warp/questpoints/api"
	"github.com/warp/questpoints/config"
	"github.com/warp/questpoints/economy"
	"github.com/warp/questpoints/store/sqlite"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()
	var configPath string

	root := &cobra.Command{
		Use:          "questpoints",
		Short:        "Points economy server for the quest task tracker",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "questpoints.yaml", "YAML config file")
	root.PersistentFlags().Int("port", 8080, "HTTP server port")
	root.PersistentFlags().String("db", "questpoints.db", "SQLite database path")
	bindFlag(v, "server.port", root, "port")
	bindFlag(v, "database.path", root, "db")

	root.AddCommand(newUnlockCommand(v, &configPath), newBalanceCommand(v, &configPath))
	return root
}

func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(name)); err != nil {
		log.Fatalf("Failed to bind --%s: %v", name, err)
	}
}

// =============================================================================
// SERVE
// =============================================================================

func serve(cfg *config.Config) error {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	handler := api.NewHandler(store, cfg.FundingMode())
	router := api.NewRouter(handler, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        cfg.Metrics.Enabled,
	})

	reporter := api.NewLedgerReporter(store)
	reporter.Interval = cfg.Metrics.ReportInterval
	reporter.Enabled = cfg.Metrics.Enabled
	reporter.Start()
	defer reporter.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("[Server] starting on http://localhost:%d (funding: %s)", cfg.Server.Port, cfg.FundingMode())
		log.Printf("[Server] API available at http://localhost:%d/api", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Println("[Server] shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("[Server] stopped")
	return nil
}

// =============================================================================
// ADMIN COMMANDS
// =============================================================================

func openStore(v *viper.Viper, configPath string) (*config.Config, *sqlite.Store, error) {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return cfg, store, nil
}

func newUnlockCommand(v *viper.Viper, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock TASK_ID",
		Short: "Release a task locked by a redemption",
		Long: `Release a task locked by a redemption so it counts towards the balance
again. The reward it paid for stays redeemed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStore(v, *configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			engine := economy.NewRewardLockEngine(store, cfg.FundingMode())
			task, err := engine.UnlockTask(cmd.Context(), economy.TaskID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s (%s, %d points)\n", task.ID, task.Name, task.Points)
			return nil
		},
	}
}

func newBalanceCommand(v *viper.Viper, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Print the ledger summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore(v, *configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := store.ListTasks(cmd.Context(), economy.TaskFilter{})
			if err != nil {
				return err
			}
			s := economy.Summarize(tasks)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "earned:    %d\n", s.Earned)
			fmt.Fprintf(out, "penalties: %d\n", s.Penalties)
			fmt.Fprintf(out, "spent:     %d\n", s.Spent)
			fmt.Fprintf(out, "balance:   %d\n", s.Balance)
			return nil
		},
	}
}
