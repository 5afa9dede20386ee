package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crossjoin/internal/artifact"
	"crossjoin/internal/codec"
	"crossjoin/internal/ledger"
	"crossjoin/internal/pipeline"
	"crossjoin/internal/server"
	"crossjoin/internal/startup"
)

func main() {
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	if err := startup.LogFFmpegCheck(); err != nil {
		startup.LogFatal("FFmpeg check failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		startup.LogShutdownInitiated(sig.String())
		cancel()
	}()

	ledgerStart := time.Now()
	led, err := ledger.Open(ctx, config.LedgerPath)
	if err != nil {
		if errors.Is(err, ledger.ErrCorrupt) {
			startup.LogFatal("Ledger %s is corrupt and needs manual repair before resuming: %v",
				config.LedgerPath, err)
		}
		startup.LogFatal("Failed to open ledger: %v", err)
	}
	defer func() {
		if err := led.Close(); err != nil {
			startup.LogFatal("Failed to close ledger: %v", err)
		}
	}()
	startup.LogLedgerInit(config.LedgerPath, time.Since(ledgerStart))

	store := artifact.NewStore(config.WorkDir, config.OutputDir,
		config.IntermediateExt, config.OutputExt)
	ffmpeg := &codec.FFmpeg{IntermediateCodec: config.IntermediateCodec}

	var srv *server.Server
	if config.MetricsEnabled {
		srv = server.New(":"+config.MetricsPort, led, config.Mode)
		srv.Start()
	}

	coordinator := pipeline.New(pipeline.Options{
		Mode:             pipeline.Mode(config.Mode),
		LeftDir:          config.LeftDir,
		RightDir:         config.RightDir,
		TransformWorkers: config.TransformWorkers,
		JoinWorkers:      config.JoinWorkers,
		QueueDepth:       config.QueueDepth,
		MaxRetries:       config.MaxRetries,
		TaskTimeout:      config.TaskTimeout,
		PollInterval:     config.PollInterval,
		MaxWallTime:      config.MaxWallTime,
		InterTaskPause:   config.InterTaskPause,
	}, led, store, ffmpeg)

	startup.LogPipelineStart(config.Mode)
	runErr := coordinator.Run(ctx)

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			startup.LogFatal("Status server shutdown failed: %v", err)
		}
		shutdownCancel()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		startup.LogFatal("Pipeline failed: %v", runErr)
	}
	startup.LogShutdownComplete()
}
