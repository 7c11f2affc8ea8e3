package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	blockring "github.com/avsm/shared-block-ring"
	"github.com/avsm/shared-block-ring/blockdev"
	"github.com/avsm/shared-block-ring/internal/interfaces"
)

var runArgs struct {
	backend  string
	path     string
	size     string
	pushers  int
	duration time.Duration
	itemSize int
	verbose  bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Push synthetic load through a journal and report throughput/latency",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runArgs.backend, "backend", "mem", "Storage backend: mem or file")
	f.StringVar(&runArgs.path, "path", "ringbench.img", "Path to the backing file (file backend only)")
	f.StringVar(&runArgs.size, "size", "64M", "Size of the ring device (e.g. 64M, 1G)")
	f.IntVar(&runArgs.pushers, "pushers", 4, "Number of concurrent pusher goroutines")
	f.DurationVar(&runArgs.duration, "duration", 10*time.Second, "How long to generate load")
	f.IntVar(&runArgs.itemSize, "item-size", 256, "Size in bytes of each pushed item")
	f.BoolVar(&runArgs.verbose, "v", false, "Verbose (debug-level) logging")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, cleanup := newLogger(runArgs.verbose)
	defer cleanup()

	sizeBytes, err := parseSize(runArgs.size)
	if err != nil {
		return err
	}
	const sectorSize = 512
	sectorCount := uint64(sizeBytes) / sectorSize

	var dev interfaces.BlockDevice
	var closer func() error

	switch runArgs.backend {
	case "mem":
		dev = blockdev.NewMemory(sectorSize, sectorCount)
		closer = func() error { return nil }
	case "file":
		f, ferr := blockdev.CreateFile(runArgs.path, sectorSize, sectorCount)
		if ferr != nil {
			return ferr
		}
		dev = f
		closer = f.Close
	default:
		return fmt.Errorf("unknown backend %q (want mem or file)", runArgs.backend)
	}
	defer closer()

	logger.Infof("starting ringbench: backend=%s size=%s pushers=%d duration=%s item_size=%d",
		runArgs.backend, formatSize(sizeBytes), runArgs.pushers, runArgs.duration, runArgs.itemSize)

	metrics := blockring.NewMetrics()
	observer := blockring.NewMetricsObserver(metrics)

	var applied int64
	handler := blockring.HandlerFunc(func(ops []any) error {
		atomic.AddInt64(&applied, int64(len(ops)))
		return nil
	})

	engine, err := blockring.Start(cmd.Context(), dev, handler, blockring.BytesCodec{},
		blockring.WithLogger(logger), blockring.WithObserver(observer))
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), runArgs.duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Infof("received shutdown signal, stopping load generation")
			cancel()
		case <-ctx.Done():
		}
	}()

	var pushed, failed int64
	g, gctx := errgroup.WithContext(context.Background())
	for i := 0; i < runArgs.pushers; i++ {
		pusherID := uuid.New()
		g.Go(func() error {
			item := make([]byte, runArgs.itemSize)
			copy(item, pusherID[:])
			for {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
				if _, err := rand.Read(item[16:]); err != nil {
					return err
				}
				if _, err := engine.Push(gctx, append([]byte(nil), item...)); err != nil {
					atomic.AddInt64(&failed, 1)
					continue
				}
				atomic.AddInt64(&pushed, 1)
			}
		})
	}
	if err := g.Wait(); err != nil {
		logger.Errorf("pusher group error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), blockring.DefaultShutdownWait)
	defer shutdownCancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}

	snap := metrics.Snapshot()
	fmt.Printf("pushed=%d failed=%d applied=%d\n", pushed, failed, applied)
	fmt.Printf("push_ops=%d push_retries=%d push_bytes=%d\n", snap.PushOps, snap.PushRetries, snap.PushBytes)
	fmt.Printf("replay_batches=%d items_applied=%d replay_bytes=%d\n", snap.ReplayBatches, snap.ItemsApplied, snap.ReplayBytes)
	fmt.Printf("io_errors=%d parse_errors=%d handler_errors=%d\n", snap.IOErrors, snap.ParseErrors, snap.HandlerErrors)
	fmt.Printf("latency avg=%s p50=%s p99=%s p999=%s\n",
		time.Duration(snap.AvgLatencyNs), time.Duration(snap.LatencyP50Ns),
		time.Duration(snap.LatencyP99Ns), time.Duration(snap.LatencyP999Ns))
	return nil
}
