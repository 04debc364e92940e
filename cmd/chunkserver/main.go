// Command chunkserver runs the data-plane daemon: a fixed pool of network
// workers, each with its own bounded disk-job queue, serving the write/read
// chain protocol described by SPEC_FULL.md §4.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/lizardfs/lizardfs-sub006/config"
	"github.com/lizardfs/lizardfs-sub006/internal/chunkserver"
	"github.com/lizardfs/lizardfs-sub006/persist"
	lfsync "github.com/lizardfs/lizardfs-sub006/sync"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "chunkserver",
		Short: "LizardFS-style chunkserver",
	}

	var configFile string
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a chunkserver config file (default: built-in defaults)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chunkserver daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return run(ctx, configFile)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cs := cfg.Chunkserver

	logger, err := persist.NewLogger("chunkserver.log")
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logger.Close()

	if err := os.MkdirAll(cs.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store := chunkserver.NewDirStore(cs.DataDir)
	dial := chunkserver.TCPDialer{Timeout: time.Duration(cs.DialTimeoutMs) * time.Millisecond}

	workers := make([]*chunkserver.NetworkWorker, cs.Workers)
	for i := range workers {
		workers[i] = chunkserver.NewNetworkWorker(i, cs.JobQueueDepth, store, dial)
	}

	listener, err := net.Listen("tcp", cs.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := chunkserver.NewServer(listener, workers, logger)
	logger.Printf("chunkserver: listening on %s with %d workers", cs.ListenAddr, len(workers))

	tg := &lfsync.ThreadGroup{}
	errCh := make(chan error, 1+len(workers))
	go func() { errCh <- srv.Accept(tg) }()
	for _, w := range workers {
		w := w
		go func() { errCh <- w.Run(tg) }()
	}

	go func() {
		<-ctx.Done()
		logger.Printf("chunkserver: shutdown signal received")
		tg.Stop()
	}()

	for i := 0; i < 1+len(workers); i++ {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}
