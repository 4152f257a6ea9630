// Command godwoken-core runs the rollup core node: the store, the
// produce-submit-confirm reactor, and their supporting ambient services.
//
// Usage:
//
//	godwoken-core [flags]
//
// Flags:
//
//	--datadir              Data directory path (default: ~/.godwoken-core)
//	--chain-id             Chain identifier (default: 1)
//	--l1.rpc-url           L1 JSON-RPC endpoint
//	--l1.indexer-url       L1 CKB indexer endpoint
//	--produce-interval-ms  Block-production tick interval (default: 3000)
//	--local-limit          Max locally-queued unsubmitted blocks (default: 5)
//	--submitted-limit      Max in-flight submission transactions (default: 3)
//	--log-level            Log level: debug, info, warn, error (default: info)
//	--log-format           Log encoding: json, text (default: json)
//	--metrics              Metrics setting, reported at startup (default: false)
//	--version              Print version and exit
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godwokenrises/godwoken-core/config"
	"github.com/godwokenrises/godwoken-core/gwtypes"
	"github.com/godwokenrises/godwoken-core/psc"
	"github.com/godwokenrises/godwoken-core/rollupnode"
)

var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code so it can be
// exercised from a test without calling os.Exit.
func run(args []string) int {
	cfg, exit, code := parseFlags(args)
	if exit {
		return code
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("godwoken-core %s starting", version)
	log.Printf("  datadir:  %s", cfg.DataDir)
	log.Printf("  chain id: %d", cfg.ChainID)
	log.Printf("  log:      %s/%s", cfg.LogLevel, cfg.LogFormat)
	log.Printf("  metrics:  %v", cfg.Metrics)

	if err := cfg.Validate(); err != nil {
		log.Printf("invalid configuration: %v", err)
		return 1
	}
	if err := cfg.InitDataDir(); err != nil {
		log.Printf("failed to initialize datadir: %v", err)
		return 1
	}

	reactor := psc.NewReactor(reactorConfig(cfg), &unconfiguredProducer{}, &unconfiguredSubmitter{}, &unconfiguredPoller{}, psc.Watermarks{})
	node := rollupnode.New(cfg, reactor)

	if err := node.Start(); err != nil {
		log.Printf("failed to start node: %v", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	if err := node.Stop(); err != nil {
		log.Printf("error during shutdown: %v", err)
		return 1
	}
	log.Println("shutdown complete")
	return 0
}

func reactorConfig(cfg config.Config) psc.Config {
	d := psc.DefaultConfig()
	d.ProduceInterval = time.Duration(cfg.ProduceIntervalMS) * time.Millisecond
	d.LocalLimit = cfg.LocalLimit
	d.SubmittedLimit = cfg.SubmittedLimit
	return d
}

// unconfiguredProducer/Submitter/Poller are the seam where a concrete L1
// RPC client, CKB indexer, and generator-backed block assembler plug in.
// Those collaborators are external to this module -- L1 RPC, indexer
// clients, and the on-L1 execution VM are treated as opaque backends
// behind generator/transport interfaces -- so the stock binary fails
// closed with a clear error instead of silently no-opping.
type unconfiguredProducer struct{}

func (*unconfiguredProducer) Produce(ctx context.Context) (psc.ProducedBlock, error) {
	return psc.ProducedBlock{}, errUnconfiguredBackend
}

type unconfiguredSubmitter struct{}

func (*unconfiguredSubmitter) Submit(ctx context.Context, pb psc.ProducedBlock) (gwtypes.Hash, error) {
	return gwtypes.Hash{}, errUnconfiguredBackend
}

type unconfiguredPoller struct{}

func (*unconfiguredPoller) PollStatus(ctx context.Context, txHash gwtypes.Hash) (psc.L1Status, error) {
	return psc.L1StatusUnknown, errUnconfiguredBackend
}

var errUnconfiguredBackend = fmt.Errorf("godwoken-core: no L1/generator backend wired; see rollupnode.New")

// parseFlags parses CLI arguments into a Config, returning whether the
// caller should exit immediately and with what code.
func parseFlags(args []string) (config.Config, bool, int) {
	cfg := config.DefaultConfig()
	fs := newFlagSet(&cfg)
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return cfg, true, 2
	}
	if *showVersion {
		fmt.Printf("godwoken-core %s (commit %s)\n", version, commit)
		return cfg, true, 0
	}
	return cfg, false, 0
}

// newFlagSet binds every CLI flag to fields on cfg.
func newFlagSet(cfg *config.Config) *flagSet {
	fs := newCustomFlagSet("godwoken-core")
	fs.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "data directory path")
	fs.Uint64Var(&cfg.ChainID, "chain-id", cfg.ChainID, "chain identifier")
	fs.StringVar(&cfg.L1RPCURL, "l1.rpc-url", cfg.L1RPCURL, "L1 JSON-RPC endpoint")
	fs.StringVar(&cfg.L1IndexerURL, "l1.indexer-url", cfg.L1IndexerURL, "L1 CKB indexer endpoint")
	fs.IntVar(&cfg.ProduceIntervalMS, "produce-interval-ms", cfg.ProduceIntervalMS, "block-production tick interval in milliseconds")
	fs.IntVar(&cfg.LocalLimit, "local-limit", cfg.LocalLimit, "max locally-queued unsubmitted blocks")
	fs.IntVar(&cfg.SubmittedLimit, "submitted-limit", cfg.SubmittedLimit, "max in-flight submission transactions")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log encoding: json, text")
	fs.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "metrics setting, reported at startup")
	return fs
}
