package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/composition/channel"
	"github.com/wippyai/composition/config"
	"github.com/wippyai/composition/loopback"
)

// rootOptions holds global flags and the state loaded before any
// subcommand runs.
type rootOptions struct {
	configPath string
	cfg        config.Config
	log        *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{log: zap.NewNop()}

	cmd := &cobra.Command{
		Use:           "compositor-probe",
		Short:         "Drive composition channels against a loopback engine",
		Long:          "Runs scripted channel sessions, encodes command records and watches notifications on an in-process engine.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			log, err := cfg.Log.NewLogger()
			if err != nil {
				return err
			}
			opts.cfg, opts.log = cfg, log
			channel.SetLogger(log)
			loopback.SetLogger(log)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = opts.log.Sync()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./composition.yaml)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newEncodeCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

// newEngine starts a loopback engine configured from the loaded settings.
func (o *rootOptions) newEngine(extra ...loopback.Option) *loopback.Engine {
	opts := append(o.cfg.Engine.LoopbackOptions(), loopback.WithLogger(o.log))
	return loopback.New(append(opts, extra...)...)
}
