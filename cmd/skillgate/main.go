package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillgate/pkg/db"
	"github.com/jingkaihe/skillgate/pkg/governance"
	"github.com/jingkaihe/skillgate/pkg/governance/sqlite"
	"github.com/jingkaihe/skillgate/pkg/logger"
)

func init() {
	// Environment variables
	viper.SetEnvPrefix("SKILLGATE")
	viper.AutomaticEnv()

	// Config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.skillgate")
	viper.AddConfigPath(".")

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()
}

var rootCmd = &cobra.Command{
	Use:   "skillgate",
	Short: "Skillgate governs agent skills through review, scanning, and audit",
	Long: `Skillgate tracks agent skills through a governance lifecycle: ingested
skills start pending, security scans assign a risk level, reviewers approve
or reject, and every change lands in an immutable audit trail.`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		logger.SetLogLevel(viper.GetString("log_level"))
		logger.SetLogFormat(viper.GetString("log_format"))
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
		os.Exit(1)
	},
}

// openService opens the governance database, applying pending
// migrations, and returns the service plus a close function.
func openService(cmd *cobra.Command) (*governance.Service, func(), error) {
	dbPath := viper.GetString("db_path")
	if dbPath == "" {
		var err error
		dbPath, err = db.DefaultDBPath()
		if err != nil {
			return nil, nil, err
		}
	}

	store, err := sqlite.New(cmd.Context(), dbPath)
	if err != nil {
		return nil, nil, err
	}

	return governance.NewService(store), func() { store.Close() }, nil
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().String("db-path", "", "Path to the governance database (defaults to ~/.skillgate/governance.db)")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("db_path", rootCmd.PersistentFlags().Lookup("db-path"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(skillCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
