package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avsm/shared-block-ring/blockdev"
	"github.com/avsm/shared-block-ring/internal/ringbuf"
)

var inspectArgs struct {
	path   string
	frames bool
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Dump the header state of a ring file without attaching a producer",
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectArgs.path, "path", "", "Path to the ring file (required)")
	inspectCmd.Flags().BoolVar(&inspectArgs.frames, "frames", false, "List every frame currently visible in [C, P)")
	inspectCmd.MarkFlagRequired("path")
}

func runInspect(cmd *cobra.Command, args []string) error {
	dev, err := blockdev.OpenFile(inspectArgs.path, 0, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", inspectArgs.path, err)
	}
	defer dev.Close()

	cons, err := ringbuf.AttachConsumer(cmd.Context(), dev, nil)
	if err != nil {
		return fmt.Errorf("attaching to %s: %w", inspectArgs.path, err)
	}

	r := cons.Ring()
	p, c := r.P(), r.C()
	state := "running"
	if r.State() == ringbuf.Suspended {
		state = "suspended"
	}

	fmt.Printf("path:        %s\n", inspectArgs.path)
	fmt.Printf("sector_size: %d\n", dev.SectorSize())
	fmt.Printf("sectors:     %d\n", dev.SectorCount())
	fmt.Printf("payload_len: %d\n", r.PayloadLen())
	fmt.Printf("state:       %s\n", state)
	fmt.Printf("P:           %d\n", p)
	fmt.Printf("C:           %d\n", c)
	fmt.Printf("backlog:     %d bytes not yet acknowledged\n", p-c)

	if inspectArgs.frames {
		frames, end, err := cons.Fold(cmd.Context())
		if err != nil {
			return fmt.Errorf("reading visible frames: %w", err)
		}
		fmt.Printf("\n%d frame(s) visible up to position %d:\n", len(frames), end)
		for i, f := range frames {
			preview := f
			truncated := ""
			if len(preview) > 32 {
				preview = preview[:32]
				truncated = "..."
			}
			fmt.Printf("  [%d] %d bytes: %q%s\n", i, len(f), preview, truncated)
		}
	}
	return nil
}
