// Command audiencesync uploads customer exports to custom audiences.
//
//	audiencesync run --config job.yaml
//	audiencesync validate --config job.yaml
//	audiencesync resolve --input export.json
//	audiencesync audiences --ad-account 1234
//	audiencesync serve --addr :8080
//	audiencesync history --run-id <uuid>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"audiencesync/internal/config"
	"audiencesync/internal/logging"

	// register all ledger backends with the storage factory.
	_ "audiencesync/internal/storage/all"
)

// app is the state shared by all subcommands.
type app struct {
	cfgPath  string
	envFiles []string
	level    string
	format   string

	cfg config.Pipeline
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "audiencesync",
		Short:         "Stream customer exports into custom audiences",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = zap.L().Sync()
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.cfgPath, "config", "c", "", "pipeline config file (JSON or YAML)")
	f.StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load before the environment (default .env when present)")
	f.StringVar(&a.level, "log-level", "", "log level: debug, info, warn, error (overrides logging.level)")
	f.StringVar(&a.format, "log-format", "", "log format: console or json (overrides logging.format)")

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newResolveCmd(a),
		newAudiencesCmd(a),
		newServeCmd(a),
		newHistoryCmd(a),
	)
	return root
}

// load reads the pipeline config and installs the logger.
func (a *app) load(cmd *cobra.Command) error {
	p, err := config.Load(a.cfgPath, a.envFiles...)
	if err != nil {
		return err
	}
	a.cfg = p

	level, format := p.Logging.Level, p.Logging.Format
	if a.level != "" {
		level = a.level
	}
	if a.format != "" {
		format = a.format
	}
	if _, err := logging.Setup(level, format); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	zap.L().Debug("config: loaded",
		zap.String("command", cmd.Name()),
		zap.String("path", a.cfgPath),
		zap.String("job", p.Job),
	)
	return nil
}
