// Package cli implements the dungeon command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dungeon-io/dungeon/internal/logging"
)

// settings are the process-wide options shared by every command.
type settings struct {
	ConfigDir string `env:"DUNGEON_CONFIG_DIR" envDefault:"config"`
	LogLevel  string `env:"DUNGEON_LOG_LEVEL" envDefault:"info"`
	// Environment selects the host overlay (config/_<environment>.yaml).
	Environment string `env:"DUNGEON_ENVIRONMENT" envDefault:"production"`
}

var (
	rootConfigDir string
	rootLogLevel  string

	current settings
)

var rootCmd = &cobra.Command{
	Use:   "dungeon",
	Short: "Deploy the Pulumi stacks of an environment",
	Long: `Dungeon deploys the infrastructure of one environment as a chain of Pulumi stacks.

Stacks are processed one at a time in dependency order:
  aws-bootstrap   deployer role and policies
  aws-vpc         network
  aws-eks         cluster and node groups
  k8s             cluster add-ons`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(cmd.Flags())
		if err != nil {
			return err
		}
		current = s
		logging.Init(s.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigDir, "config-dir", "", "Configuration directory (default $DUNGEON_CONFIG_DIR or ./config)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level: debug, info, warn, error (default $DUNGEON_LOG_LEVEL or info)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadSettings reads the environment and lets explicitly set flags win.
func loadSettings(flags *pflag.FlagSet) (settings, error) {
	var s settings
	if err := env.Parse(&s); err != nil {
		return s, fmt.Errorf("failed to read environment: %w", err)
	}
	if flags.Changed("config-dir") {
		s.ConfigDir = rootConfigDir
	}
	if flags.Changed("log-level") {
		s.LogLevel = rootLogLevel
	}
	return s, nil
}

// exitError carries a non-zero exit code that has already been reported.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	printError(os.Stderr, err)
	return -1
}

func printError(w io.Writer, err error) {
	cwd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	color.New(color.FgRed).Fprintln(w, "Error: "+shortenPaths(err.Error(), cwd, home))
}

// shortenPaths rewrites absolute paths under cwd to "." and under home to "~".
func shortenPaths(msg, cwd, home string) string {
	if cwd != "" && cwd != string(os.PathSeparator) {
		msg = strings.ReplaceAll(msg, cwd, ".")
	}
	if home != "" && home != string(os.PathSeparator) {
		msg = strings.ReplaceAll(msg, home, "~")
	}
	return msg
}
