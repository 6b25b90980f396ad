package main

import (
	"fmt"
	"os"

	"github.com/risor-io/ffiguard/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "ffiguard",
	Short: "Exercise the Go/native error bridge against a simulated backend",
	Long: `ffiguard runs scenarios that cross the boundary between Go and a
simulated single-threaded native runtime, and prints what a client would
see for each one.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run [scenario...]",
	Short: "Run scenarios (all of them by default)",
	RunE:  runHandler,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available scenarios",
	Run:   listHandler,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ffiguard %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	pflags := rootCmd.PersistentFlags()
	pflags.String("config", "", "Config file")
	pflags.String("log-level", "", "Bridge log level (trace, debug, info, warn, error)")
	pflags.String("log-format", "", "Log format (console or json)")
	pflags.Bool("no-color", false, "Disable colored output")
	viper.BindPFlag("config", pflags.Lookup("config"))
	viper.BindPFlag("no-color", pflags.Lookup("no-color"))

	runCmd.Flags().BoolP("verbose", "v", false, "Print LOCATION lines")
	runCmd.Flags().Bool("backtrace", false, "Capture Go stacks for unexpected panics")
	runCmd.Flags().String("client-min-messages", "", "Lowest level delivered to the client")
	viper.BindPFlag("verbose", runCmd.Flags().Lookup("verbose"))

	rootCmd.AddCommand(runCmd, listCmd, versionCmd)
}

// loadConfig resolves the config file, environment and command line flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.New(viper.GetString("config"))
	flagKeys := map[string]string{
		"log-level":           config.KeyLogLevel,
		"log-format":          config.KeyLogFormat,
		"backtrace":           config.KeyBacktrace,
		"client-min-messages": config.KeyClientMinMessages,
	}
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}
	if viper.GetBool("no-color") {
		v.Set(config.KeyColor, false)
	}
	return config.Load(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
}
