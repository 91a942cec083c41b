package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-management/pkg/config"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/utilities"
)

var (
	configFile string
	v          = config.New()

	cfg   *config.Config
	sugar *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:   "usermgmt",
	Short: "Multi-tenant user management API",
	Long: `usermgmt serves the user management REST API: companies, layers, groups,
users with supervisors, and stateless bearer tokens.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		lg, err := utilities.Init(c.LoggerConfig())
		if err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		cfg = c
		sugar = lg.Sugar()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sugar != nil {
			_ = sugar.Sync()
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml or $CONFIG_FILE)")
	rootCmd.PersistentFlags().Bool("debug", false, "development logging at debug level")
	rootCmd.PersistentFlags().String("database-driver", "", "database driver: postgres, pgx or sqlite")
	rootCmd.PersistentFlags().String("database-url", "", "database connection URL")
	mustBind(v, "log.dev", rootCmd.PersistentFlags().Lookup("debug"))
	mustBind(v, "database.driver", rootCmd.PersistentFlags().Lookup("database-driver"))
	mustBind(v, "database.url", rootCmd.PersistentFlags().Lookup("database-url"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

// flags only override config when explicitly set
func mustBind(v *viper.Viper, key string, f *pflag.Flag) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}
