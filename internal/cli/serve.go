package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/band-engine/band/internal/api"
	"github.com/band-engine/band/internal/engine"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("config", "c", "", "path to a RuntimeConfig TOML file (defaults if omitted)")
	serveCmd.Flags().String("addr", ":8080", "address to listen on")
	serveCmd.Flags().Bool("metrics", true, "expose the /metrics Prometheus endpoint")
	serveCmd.Flags().String("db", "", "path to a sqlite database for durable profile/job/scheduler state (disabled if omitted)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the band inference engine and its HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	addr, _ := cmd.Flags().GetString("addr")
	metrics, _ := cmd.Flags().GetBool("metrics")
	dbPath, _ := cmd.Flags().GetString("db")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.PersistencePath = dbPath
	}

	e, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("band: %w", err)
	}
	defer e.Close()

	server := api.NewServer(e)
	if metrics {
		server.EnableMetrics()
	}

	fmt.Fprintf(os.Stdout, "band: listening on %s\n", addr)
	return http.ListenAndServe(addr, server.Handler())
}

func loadConfig(path string) (engine.RuntimeConfig, error) {
	if path == "" {
		return engine.NewRuntimeConfigBuilder().Build()
	}
	return FromTOML(path)
}
