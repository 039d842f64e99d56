package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"smartkollect/internal/config"
	"smartkollect/internal/metadata"
	"smartkollect/internal/report"
)

var rootCmd = &cobra.Command{
	Use:   "reportctl",
	Short: "SmartKollect ad-hoc report tool",
	Long: `reportctl lists the reportable entities, validates report definitions and
runs them against fixture data, a SQLite database or a remote report service.
seed loads fixture data into a SQLite database for run --db.
Definitions are YAML or JSON files in the same shape the API accepts.`,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REPORTCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("catalog", "", "catalog YAML file (default: built-in SmartKollect catalog)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("catalog", rootCmd.PersistentFlags().Lookup("catalog"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(entitiesCmd(), validateCmd(), runCmd(), seedCmd(), tokenCmd())
}

// appConfig loads the service configuration so the CLI shares row limits,
// timeouts and the JWT secret with the server.
func appConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if path := viper.GetString("catalog"); path != "" {
		cfg.Reports.CatalogFile = path
	}
	return cfg, nil
}

func loadBuilder(cfg *config.Config) (*report.Builder, error) {
	if cfg.Reports.CatalogFile == "" {
		return report.NewBuilder(metadata.DefaultCatalog()), nil
	}
	cat, err := metadata.LoadCatalogFile(cfg.Reports.CatalogFile)
	if err != nil {
		return nil, err
	}
	return report.NewBuilder(cat), nil
}
