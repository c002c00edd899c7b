package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zde37/chordring/pkg"
	"github.com/zde37/chordring/pkg/config"
)

// daemonOptions are the settings of a chordd node: the ring configuration
// plus process-level switches.
type daemonOptions struct {
	cfg         *config.Config
	interactive bool
}

func main() {
	rootCmd := newRootCommand(runNode)
	rootCmd.AddCommand(newClientCommands()...)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the daemon command. run receives the parsed options.
func newRootCommand(run func(cmd *cobra.Command, opts *daemonOptions) error) *cobra.Command {
	opts := &daemonOptions{cfg: config.DefaultConfig()}
	cfg := opts.cfg

	rootCmd := &cobra.Command{
		Use:   "chordd",
		Short: "A Chord distributed hash table node",
		Long: `chordd runs one node of a Chord ring. Without --bootstrap it creates a
new ring; with it the node joins through the first reachable bootstrap node.
Keys are served over gRPC to other nodes and over HTTP to clients.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd, opts)
		},
	}

	flags := rootCmd.Flags()

	// Identity
	flags.StringVar(&cfg.Host, "host", cfg.Host, "Host address to bind to and advertise")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "Port for the Chord gRPC server")
	flags.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "Port for the HTTP API, 0 disables it")
	flags.StringVar(&cfg.NodeID, "node-id", "", "Explicit ring identifier (decimal or 0x hex), defaults to the hash of host:port")

	// Membership
	flags.StringSliceVar(&cfg.BootstrapNodes, "bootstrap", nil, "Bootstrap node addresses (host:port) of an existing ring")
	flags.StringVar(&cfg.AuthToken, "auth-token", "", "Shared secret required on node-to-node calls")

	// Protocol
	flags.IntVar(&cfg.M, "m", cfg.M, "Identifier space size in bits, identical across the ring")
	flags.IntVar(&cfg.SuccessorListSize, "successors", cfg.SuccessorListSize, "Successor list length and replication factor")
	flags.DurationVar(&cfg.StabilizeInterval, "stabilize-interval", cfg.StabilizeInterval, "Interval between stabilization rounds")
	flags.DurationVar(&cfg.FixFingersInterval, "fix-fingers-interval", cfg.FixFingersInterval, "Interval between finger refreshes")
	flags.DurationVar(&cfg.CheckPredecessorInterval, "check-predecessor-interval", cfg.CheckPredecessorInterval, "Interval between predecessor liveness checks")
	flags.DurationVar(&cfg.ReplicationInterval, "replication-interval", cfg.ReplicationInterval, "Interval between replica pushes")
	flags.DurationVar(&cfg.RPCTimeout, "rpc-timeout", cfg.RPCTimeout, "Timeout of a single RPC")
	flags.IntVar(&cfg.MaxLookupHops, "max-hops", 0, "Hop bound of a lookup, 0 means m + 8")

	// Storage
	flags.StringVar(&cfg.Storage.Backend, "storage", cfg.Storage.Backend, "Storage backend (memory, postgres)")
	flags.StringVar(&cfg.Storage.DatabaseURL, "db", "", "PostgreSQL connection URL for the postgres backend")
	flags.StringVar(&cfg.Storage.Table, "table", cfg.Storage.Table, "PostgreSQL table name for the postgres backend")

	// Logging
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json, text)")
	flags.StringVar(&cfg.LogFile, "log-file", "", "Also write logs to this rotated file")

	flags.BoolVar(&opts.interactive, "interactive", false, "Show a live status console ([s] status, [l] leave, [q] quit)")

	return rootCmd
}

// newLogger builds the process logger. Interactive sessions log to stderr so
// the status console on stdout stays readable.
func newLogger(opts *daemonOptions) (*pkg.Logger, error) {
	cfg := opts.cfg

	loggerConfig := pkg.DefaultLoggerConfig()
	loggerConfig.Level = cfg.LogLevel
	loggerConfig.Format = cfg.LogFormat
	loggerConfig.Fields = pkg.Fields{"service": "chordd"}

	if opts.interactive {
		loggerConfig.Outputs = []string{pkg.LogOutputStderr}
	}
	if cfg.LogFile != "" {
		loggerConfig.Outputs = append(loggerConfig.Outputs, pkg.LogOutputFile)
		loggerConfig.File.Path = cfg.LogFile
	}

	return pkg.NewLogger(loggerConfig)
}
