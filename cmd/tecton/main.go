package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/TectonDB/tecton/pkg/backup"
	"github.com/TectonDB/tecton/pkg/blockfile"
	"github.com/TectonDB/tecton/pkg/common/log"
	"github.com/TectonDB/tecton/pkg/stats"
	"github.com/TectonDB/tecton/pkg/telemetry"
)

var (
	// Command line flags
	op            = flag.String("op", "info", "Operation to run (info, verify, snapshot, restore)")
	path          = flag.String("path", "", "Block file prefix to operate on")
	blockSize     = flag.Int("block-size", 4096, "Block size in bytes")
	blocksPerFile = flag.Int("blocks-per-file", 65536, "Blocks per physical file before rollover")
	snapshotPath  = flag.String("snapshot", "", "Snapshot file to write (snapshot) or read (restore)")
	telemetryOn   = flag.Bool("telemetry", false, "Collect operation statistics and publish them as metrics at exit")
	verbose       = flag.Bool("verbose", false, "Enable debug logging")
)

// collector is attached to every opened block file when -telemetry is set
var collector *stats.AtomicCollector

func main() {
	flag.Parse()

	logger := log.GetDefaultLogger()
	if *verbose {
		logger.SetLevel(log.LevelDebug)
	}

	if *path == "" {
		fmt.Fprintln(os.Stderr, "A block file prefix is required (-path)")
		flag.Usage()
		os.Exit(1)
	}

	if *telemetryOn {
		collector = stats.NewCollector()
	}

	var err error
	switch *op {
	case "info":
		err = runInfo(logger)
	case "verify":
		err = runVerify(logger)
	case "snapshot":
		err = runSnapshot(logger)
	case "restore":
		err = runRestore(logger)
	default:
		fmt.Fprintf(os.Stderr, "Unknown operation %q\n", *op)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", *op, err)
		os.Exit(1)
	}

	if collector != nil {
		publishTelemetry(logger)
	}
}

func openFile() (*blockfile.BlockColumnFile, error) {
	if collector != nil {
		return blockfile.Open(*path, *blockSize, *blocksPerFile, blockfile.WithStats(collector))
	}
	return blockfile.Open(*path, *blockSize, *blocksPerFile)
}

// publishTelemetry exports the collected statistics once, at exit
func publishTelemetry(logger log.Logger) {
	cfg := telemetry.DefaultConfig()
	cfg.LoadFromEnv()

	tel, err := telemetry.New(cfg)
	if err != nil {
		logger.Error("failed to create telemetry provider: %v", err)
		return
	}

	ctx := context.Background()
	telemetry.PublishStats(ctx, tel, collector, telemetry.ComponentBlockFile)
	if err := tel.Shutdown(ctx); err != nil {
		logger.Error("failed to flush telemetry: %v", err)
	}
}

func runInfo(logger log.Logger) error {
	f, err := openFile()
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Printf("Block file:      %s\n", f.Path())
	fmt.Printf("Block size:      %d bytes\n", f.BlockSize())
	fmt.Printf("Blocks per file: %d\n", f.BlocksPerFile())
	fmt.Printf("Blocks:          %d\n", f.Size())
	fmt.Printf("Physical files:  %d\n", f.FileNumber(f.Size()))
	return nil
}

func runVerify(logger log.Logger) error {
	f, err := openFile()
	if err != nil {
		return err
	}
	defer f.Close()

	logger.Info("verifying %d blocks in %s", f.Size(), f.Path())
	for id := 1; id <= f.Size(); id++ {
		sum, err := f.Fingerprint(id)
		if err != nil {
			return fmt.Errorf("block %d is unreadable: %w", id, err)
		}
		logger.Debug("block %d fingerprint %016x", id, sum)
	}
	fmt.Printf("Verified %d blocks\n", f.Size())
	return nil
}

func runSnapshot(logger log.Logger) error {
	if *snapshotPath == "" {
		return fmt.Errorf("a snapshot path is required (-snapshot)")
	}
	f, err := openFile()
	if err != nil {
		return err
	}
	defer f.Close()

	logger.Info("snapshotting %d blocks from %s to %s", f.Size(), f.Path(), *snapshotPath)
	if err := backup.SnapshotToFile(f, *snapshotPath); err != nil {
		return err
	}
	fmt.Printf("Snapshot written to %s\n", *snapshotPath)
	return nil
}

func runRestore(logger log.Logger) error {
	if *snapshotPath == "" {
		return fmt.Errorf("a snapshot path is required (-snapshot)")
	}

	logger.Info("restoring %s from %s", *path, *snapshotPath)
	if err := backup.RestoreFromFile(*snapshotPath, *path, *blocksPerFile); err != nil {
		return err
	}
	fmt.Printf("Restored %s\n", *path)
	return nil
}
