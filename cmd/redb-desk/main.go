package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/redbco/redb-desk/pkg/config"
)

var (
	configFile string
	cfg        *config.Config
	// Build information, set with -ldflags.
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// printVersionInfo displays detailed version information
func printVersionInfo() {
	fmt.Printf("redb-desk %s\n", Version)
	fmt.Printf("Built: %s, from commit: %s\n", BuildTime, GitCommit)
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "redb-desk",
	Short: "Multi-backend database desk",
	Long: "Browse and operate MongoDB, PostgreSQL, Redis and Kafka through one set of commands, " +
		"directly or over an SSH tunnel.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Lookup("version") != nil && cmd.Flags().Lookup("version").Changed {
			printVersionInfo()
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultConfigFile(), "Path to config file")
	rootCmd.Flags().Bool("version", false, "Show version information and exit")

	cobra.OnInitialize(func() {
		loaded, err := config.Load(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	})

	setupCommands()
}

func main() {
	Execute()
}
