package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/maxpert/gridtopic/admin"
	"github.com/maxpert/gridtopic/bridge"
	_ "github.com/maxpert/gridtopic/bridge/sink"
	"github.com/maxpert/gridtopic/cfg"
	"github.com/maxpert/gridtopic/grid"
	"github.com/maxpert/gridtopic/hlc"
	"github.com/maxpert/gridtopic/notify"
	"github.com/maxpert/gridtopic/telemetry"
	"github.com/maxpert/gridtopic/topic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("gridtopic - partitioned in-memory topics")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	// Phase 1: partition store
	backing, err := openBacking()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open partition store")
		return
	}

	clock := hlc.NewClock(cfg.Config.NodeID)
	service := grid.NewService(cfg.Config.Grid.PartitionCount, backing, clock, notify.NewHub())
	defer service.Close()

	// Phase 2: member transport
	server := grid.NewServer(grid.ServerConfig{
		MemberID: cfg.Config.NodeID,
		Address:  cfg.Config.Cluster.BindAddress,
		Port:     cfg.Config.Cluster.Port,
	}, service)

	client := grid.NewClient(grid.WithCompression(cfg.Config.Cluster.CompressionLevel))
	defer client.Close()

	router := grid.NewRouter(
		grid.Member{ID: cfg.Config.NodeID, Address: cfg.Config.Cluster.AdvertiseAddress},
		service,
		client,
		cfg.Config.Cluster.VirtualNodes,
		cfg.Config.Cluster.RequestTimeout(),
	)
	server.SetRelay(router)

	// Phase 3: topics, bridges and HTTP surface
	session := topic.NewSession(router, topic.OptionsFromConfig(cfg.Config.Topics))
	defer session.Close()

	bridges, err := bridge.NewRegistry(session, cfg.Config.Bridges)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize bridges")
		return
	}

	handlers := admin.NewAdminHandlers(session, router, bridges)
	defer handlers.Close()
	server.SetHTTPHandler(admin.Routes(handlers))

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start grid server")
		return
	}
	defer server.Stop()

	// Phase 4: join the static members
	for _, m := range cfg.Config.Cluster.Members {
		if err := router.Join(grid.Member{ID: m.ID, Address: m.Address}); err != nil {
			log.Warn().Err(err).Uint64("member_id", m.ID).Str("address", m.Address).Msg("Failed to join member")
		}
	}
	if len(cfg.Config.Cluster.Members) == 0 {
		log.Info().Msg("No members configured, starting as single-member grid")
	}

	if err := bridges.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start bridges")
		return
	}
	defer func() {
		if err := bridges.Stop(); err != nil {
			log.Warn().Err(err).Msg("Bridge shutdown")
		}
	}()

	collector := telemetry.NewMetricsCollector(session, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Str("address", server.Addr()).
		Int("partitions", cfg.Config.Grid.PartitionCount).
		Str("store", string(cfg.Config.Grid.Store)).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Node is operational")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("Shutting down")
}

func openBacking() (grid.Backing, error) {
	if cfg.Config.Grid.Store != cfg.StorePebble {
		return grid.NewMemoryBacking(cfg.Config.Grid.PartitionCount), nil
	}

	path := filepath.Join(cfg.Config.DataDir, "partitions")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return grid.NewPebbleBacking(path, cfg.Config.Grid.PartitionCount, grid.DefaultPebbleBackingOptions(cfg.Config.Grid.CacheSize))
}
