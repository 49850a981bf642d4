package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/blob"
	"github.com/geda-valentim/ingestify-to-ai/internal/common"
	"github.com/geda-valentim/ingestify-to-ai/internal/convert"
	"github.com/geda-valentim/ingestify-to-ai/internal/events"
	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
	"github.com/geda-valentim/ingestify-to-ai/internal/monitor"
	"github.com/geda-valentim/ingestify-to-ai/internal/orchestrator"
	"github.com/geda-valentim/ingestify-to-ai/internal/queue"
	"github.com/geda-valentim/ingestify-to-ai/internal/resultindex"
	"github.com/geda-valentim/ingestify-to-ai/internal/storage/badger"
	"github.com/geda-valentim/ingestify-to-ai/internal/storage/sqlite"
)

// configPaths is a custom flag type allowing multiple -config flags.
type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }
func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	showVersion = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (repeatable; later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("ingestify version %s\n", common.GetVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("ingestify.toml"); err == nil {
			configFiles = append(configFiles, "ingestify.toml")
		}
	}

	// Startup sequence (REQUIRED ORDER): load config -> init logger ->
	// print banner -> open the two coupled stores -> wire the
	// orchestrator -> register task handlers -> start the worker pool
	// and monitor loop.
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	logger := common.SetupLogger(config)
	common.PrintBanner(config, logger)

	if err := run(config, logger); err != nil {
		logger.Fatal().Err(err).Msg("ingestify exited with error")
	}
}

func run(config *common.Config, logger arbor.ILogger) error {
	metaDB, err := sqlite.Open(logger, &config.Storage.SQLite)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer metaDB.Close()
	metadataStore := sqlite.NewStore(metaDB, logger)

	cacheDB, err := badger.Open(logger, &config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to open status cache: %w", err)
	}
	defer cacheDB.Close()
	statusCache := badger.NewStatusCache(cacheDB, logger)

	queueMgr, err := queue.NewManager(logger, metaDB.Conn(), config.Queue)
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer queueMgr.Close()

	blobStore, err := blob.NewFilesystemStore(config.Storage.Filesystem.BlobRoot, logger)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	indexPath := filepath.Join(filepath.Dir(config.Storage.SQLite.Path), "result_index.db")
	resultIndex, err := resultindex.Open(logger, indexPath)
	if err != nil {
		return fmt.Errorf("failed to open result index: %w", err)
	}
	defer resultIndex.Close()

	converter := convert.NewMarkdownConverter(logger, config.Storage.Filesystem.ScratchRoot)
	extractor := convert.NewPDFExtractor(logger, config.Storage.Filesystem.ScratchRoot)
	transcriber := convert.NewStubTranscriber(logger)

	bus := events.NewBus(logger)
	bus.Subscribe(events.JobStatusChanged, func(ctx context.Context, event events.Event) error {
		payload, ok := event.Payload.(events.StatusChangePayload)
		if !ok {
			return nil
		}
		logger.Debug().Str("job_id", payload.JobID).Str("job_type", payload.JobType).
			Str("status", payload.Status).Msg("job status changed")
		return nil
	})

	orch := orchestrator.New(
		metadataStore, statusCache, queueMgr, blobStore, resultIndex,
		converter, transcriber, extractor, interfaces.SystemClock{}, bus, config, logger,
	)

	workerPool := queue.NewWorkerPool(queueMgr, logger)
	workerPool.RegisterHandler(string(models.JobTypeMain), orch.HandleMain)
	workerPool.RegisterHandler(string(models.JobTypeSplit), orch.HandleSplit)
	workerPool.RegisterHandler(string(models.JobTypePage), orch.HandlePage)
	workerPool.RegisterHandler(string(models.JobTypeMerge), orch.HandleMerge)
	workerPool.Start()
	defer workerPool.Stop()

	scheduler := monitor.New(orch, config, logger)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start monitor loop: %w", err)
	}
	defer scheduler.Stop()

	// admin.New(orch) fronts the §4.M hooks for a future CLI or
	// management endpoint (out of scope here per §1's HTTP-surface
	// non-goal); this core only needs the worker pool and monitor loop.

	logger.Info().
		Int("queue_concurrency", config.Queue.Concurrency).
		Bool("monitoring_enabled", config.Monitoring.Enabled).
		Msg("ingestify ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutdown signal received")
	common.PrintShutdownBanner(logger)

	_, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	bus.Close()
	common.Stop()
	return nil
}
