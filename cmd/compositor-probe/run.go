package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/composition/channel"
	"github.com/wippyai/composition/errors"
	"github.com/wippyai/composition/loopback"
	"github.com/wippyai/composition/scenario"
)

type runOptions struct {
	*rootOptions
	format string
	stats  bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>...",
		Short: "Run scenario files and print their traces",
		Long: `Run each scenario on a fresh loopback engine and print its trace.

Every scenario gets its own engine, so handles in one trace never depend on
another scenario. The command stops at the first failing scenario.

Examples:
  compositor-probe run scenario/testdata/brush_addref.yaml
  compositor-probe run --format json --stats a.yaml b.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd.Context(), opts, args, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", "text", "output format (text|json)")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "print engine counters after each scenario")

	return cmd
}

func runScenarios(ctx context.Context, opts *runOptions, paths []string, out io.Writer) error {
	if opts.format != "text" && opts.format != "json" {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("invalid format %q: want text or json", opts.format))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, path := range paths {
		sc, err := scenario.Load(path)
		if err != nil {
			return err
		}
		if err := runOne(ctx, opts, sc, out); err != nil {
			return err
		}
	}
	return nil
}

func runOne(ctx context.Context, opts *runOptions, sc *scenario.Scenario, out io.Writer) (err error) {
	eng := opts.newEngine()
	defer func() {
		err = multierr.Append(err, eng.Close())
	}()

	opts.log.Debug("running scenario", zap.String("name", sc.Name), zap.Int("steps", len(sc.Steps)))
	res, runErr := scenario.Run(ctx, sc, eng,
		scenario.WithSessionOptions(channel.WithLogger(opts.log)),
		scenario.WithFlushTimeout(opts.cfg.Engine.SyncFlushTimeout),
	)
	if res != nil {
		if err := printResult(opts.format, res, out); err != nil {
			return multierr.Append(runErr, err)
		}
	}
	if opts.stats {
		printStats(eng.Stats(), out)
	}
	return runErr
}

func printResult(format string, res *scenario.Result, out io.Writer) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err := io.WriteString(out, res.Render())
	return err
}

func printStats(st loopback.Stats, out io.Writer) {
	fmt.Fprintf(out, "commits=%d batches=%d commands=%d rejected=%d discarded=%d presents=%d\n",
		st.Commits, st.Batches, st.Commands, st.Rejected, st.Discarded, st.Presents)
	fmt.Fprintf(out, "handles created=%d dropped=%d live_objects=%d messages posted=%d dropped=%d\n",
		st.HandlesCreated, st.HandlesDropped, st.LiveObjects, st.MessagesPosted, st.MessagesDropped)
}
