package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/protocol"
)

func newEncodeCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print the wire encoding of a command",
	}
	cmd.AddCommand(newEncodeGuidelinesCommand(root))
	return cmd
}

func newEncodeGuidelinesCommand(_ *rootOptions) *cobra.Command {
	var (
		handle  uint32
		xs, ys  []float64
		dynamic bool
	)

	cmd := &cobra.Command{
		Use:   "guidelines",
		Short: "Encode a guideline set as header and payload hex",
		Long: `Encode a guideline set command.

Each axis is sorted ascending on its own and narrowed to float32, so the
payload is always 4*(len(x)+len(y)) bytes.

Example:
  compositor-probe encode guidelines --handle 3 --x 3.5,-1,2 --y 10,0.25`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g := protocol.GuidelineSet{Handle: engine.ResourceHandle(handle), X: xs, Y: ys, Dynamic: dynamic}
			header, err := g.Header()
			if err != nil {
				return err
			}
			payload, err := g.Payload()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "header  %x\n", header)
			fmt.Fprintf(out, "payload %x\n", payload)
			fmt.Fprintf(out, "size    %d+%d\n", len(header), g.PayloadSize())
			return nil
		},
	}

	cmd.Flags().Uint32Var(&handle, "handle", 1, "target guideline-set handle")
	cmd.Flags().Float64SliceVar(&xs, "x", nil, "x coordinates")
	cmd.Flags().Float64SliceVar(&ys, "y", nil, "y coordinates")
	cmd.Flags().BoolVar(&dynamic, "dynamic", false, "mark the guidelines as animated")

	return cmd
}
