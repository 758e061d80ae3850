package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const version = "0.2.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "publish":
		run("publish", args, runPublishers)
	case "consume":
		run("consume", args, runConsumers)
	case "version":
		fmt.Printf("pika version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`pika - gridtopic benchmark tool

Usage:
  pika <command> [options]

Commands:
  publish   Publish values to a topic through the admin API
  consume   Poll a topic as members of one subscriber group
  version   Print version
  help      Show this help

Options:
  --hosts       Comma-separated host:port pairs (default: 127.0.0.1:7574)
  --topic       Topic name (default: pika)
  --secret      Cluster secret, when member auth is enabled
  --threads     Number of concurrent workers (default: 8)
  --messages    Messages to publish or consume, 0 = until duration (default: 100000)
  --duration    Maximum time to run (e.g., 60s)

Publish Options:
  --batch-size  Values per request (default: 64)
  --value-bytes Payload size (default: 128)
  --producers   Distinct producer ids, keeps per-producer order (default: threads)

Consume Options:
  --group       Subscriber group (default: pika)
  --limit       Elements per poll (default: 256)
  --wait-ms     Long poll wait when the topic is drained (default: 500)

Examples:
  pika publish --hosts=127.0.0.1:7574,127.0.0.1:7575 --messages=100000 --threads=16
  pika consume --hosts=127.0.0.1:7574 --group=bench --duration=60s`)
}

type runner func(ctx context.Context, cfg *Config, pool *Pool, stats *Stats) error

func run(name string, args []string, fn runner) {
	cfg := &Config{}
	fs := flag.NewFlagSet(name, flag.ExitOnError)

	fs.StringVar(&cfg.Hosts, "hosts", "127.0.0.1:7574", "Comma-separated host:port pairs")
	fs.StringVar(&cfg.Topic, "topic", "pika", "Topic name")
	fs.StringVar(&cfg.Secret, "secret", os.Getenv("GRIDTOPIC_CLUSTER_SECRET"), "Cluster secret")
	fs.IntVar(&cfg.Threads, "threads", 8, "Number of concurrent workers")
	fs.IntVar(&cfg.Messages, "messages", 100000, "Messages to publish or consume (0 = until duration)")
	fs.DurationVar(&cfg.Duration, "duration", 0, "Maximum time to run")
	fs.IntVar(&cfg.BatchSize, "batch-size", 64, "Values per request")
	fs.IntVar(&cfg.ValueBytes, "value-bytes", 128, "Payload size")
	fs.IntVar(&cfg.Producers, "producers", 0, "Distinct producer ids (0 = threads)")
	fs.StringVar(&cfg.Group, "group", "pika", "Subscriber group")
	fs.IntVar(&cfg.Limit, "limit", 256, "Elements per poll")
	fs.IntVar(&cfg.WaitMS, "wait-ms", 500, "Long poll wait")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}
	if cfg.Producers == 0 {
		cfg.Producers = cfg.Threads
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if cfg.Duration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), cfg.Duration)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, shutting down...")
		cancel()
	}()

	pool, err := NewPool(cfg.hostList, cfg.Secret, cfg.Threads)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.OpenTopic(ctx, cfg.Topic); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open topic %s: %v\n", cfg.Topic, err)
		os.Exit(1)
	}

	stats := NewStats()
	progressCtx, stopProgress := context.WithCancel(ctx)
	go reportProgress(progressCtx, stats)

	fmt.Printf("Running %s against %s with %d workers\n", name, cfg.Topic, cfg.Threads)
	start := time.Now()
	err = fn(ctx, cfg, pool, stats)
	stopProgress()

	stats.PrintFinal(time.Since(start))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
		os.Exit(1)
	}
}
