package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rawblock/mempool-signal-engine/internal/api"
	"github.com/rawblock/mempool-signal-engine/internal/bitcoinrpc"
	"github.com/rawblock/mempool-signal-engine/internal/config"
	"github.com/rawblock/mempool-signal-engine/internal/ingest"
	"github.com/rawblock/mempool-signal-engine/internal/mempoolstate"
	"github.com/rawblock/mempool-signal-engine/internal/notify"
	"github.com/rawblock/mempool-signal-engine/internal/pipeline"
	"github.com/rawblock/mempool-signal-engine/internal/prevout"
	"github.com/rawblock/mempool-signal-engine/internal/scoring"
	"github.com/rawblock/mempool-signal-engine/internal/signalstore"
	"github.com/rawblock/mempool-signal-engine/internal/tagindex"
	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

func main() {
	log.Println("Starting RawBlock Mempool Signal Engine...")

	cfgPath := getEnvOrDefault("CONFIG_PATH", "config.toml")
	cfg := config.Load(cfgPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── PostgreSQL ──────────────────────────────────────────────
	dsn := getEnvOrDefault("DATABASE_URL", cfg.Database.DSN)
	store, err := signalstore.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("FATAL: failed to connect to PostgreSQL: %v", err)
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		log.Fatalf("FATAL: failed to initialize schema: %v", err)
	}

	initialTags, err := store.LoadAllTags(ctx)
	if err != nil {
		log.Printf("Warning: failed to warm-load address tags: %v", err)
	}
	tags := tagindex.New(initialTags, store)

	// ─── Bitcoin Core RPC ────────────────────────────────────────
	rpcHost := fmt.Sprintf("%s:%d", cfg.Bitcoin.RPCHost, cfg.Bitcoin.RPCPort)
	rpcUser, rpcPass := bitcoinrpc.ResolveCredentials(cfg.Bitcoin.RPCUser, cfg.Bitcoin.RPCPassword)

	rpcClient, err := bitcoinrpc.New(bitcoinrpc.Config{Host: rpcHost, User: rpcUser, Pass: rpcPass})
	if err != nil {
		log.Fatalf("FATAL: failed to connect to Bitcoin Core RPC at %s: %v", rpcHost, err)
	}
	defer rpcClient.Shutdown()

	// ─── Pipeline wiring ─────────────────────────────────────────
	resolver := prevout.New(store, rpcClient)
	scorer := scoring.NewEngine(cfg.Signals.Weights, scoring.AlertThresholds{
		Critical: cfg.Signals.AlertThresholds.Critical,
		High:     cfg.Signals.AlertThresholds.High,
		Medium:   cfg.Signals.AlertThresholds.Medium,
	})
	state := mempoolstate.New()
	notifier := notify.New(notify.Config{
		Enabled:         cfg.Notifications.Enabled,
		MinScore:        cfg.Notifications.MinScore,
		CooldownSeconds: cfg.Notifications.CooldownSeconds,
		WebhookURL:      os.Getenv("NOTIFY_WEBHOOK_URL"),
	})

	eng := pipeline.New(resolver, tags, scorer, state, store, notifier, cfg.Signals.MinScorePersist)

	// ─── ZMQ ingestor ────────────────────────────────────────────
	ingestCfg := ingest.Config{
		RawTxEndpoint:     cfg.Bitcoin.ZMQRawTx,
		HashBlockEndpoint: cfg.Bitcoin.ZMQHashBlock,
		SequenceEndpoint:  cfg.Bitcoin.ZMQSequence,
	}
	subscriber := ingest.New(ingestCfg)

	events := make(chan models.MempoolEvent, 256)
	out := make(chan models.PipelineOutput, 256)

	go subscriber.Run(ctx, events)
	go eng.Run(ctx, events, out)

	// ─── WebSocket hub + presentation fan-out ───────────────────
	wsHub := api.NewHub()
	go wsHub.Run()
	go fanOutToHub(wsHub, out)

	// ─── HTTP server ─────────────────────────────────────────────
	r := api.SetupRouter(store, state, tags, wsHub)
	port := getEnvOrDefault("PORT", "5339")

	srv := make(chan error, 1)
	go func() {
		log.Printf("Engine listening on :%s", port)
		srv <- r.Run(":" + port)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-srv:
		log.Fatalf("HTTP server exited: %v", err)
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
		cancel()
	}
}

// fanOutToHub broadcasts every PipelineOutput as JSON to the dashboard
// websocket hub until out is closed.
func fanOutToHub(hub *api.Hub, out <-chan models.PipelineOutput) {
	for o := range out {
		data, err := marshalOutput(o)
		if err != nil {
			log.Printf("[main] failed to marshal pipeline output: %v", err)
			continue
		}
		hub.Broadcast(data)
	}
}

// marshalOutput wraps a PipelineOutput in a {"type", "data"} envelope
// so dashboard clients can dispatch on a single discriminant field.
func marshalOutput(o models.PipelineOutput) ([]byte, error) {
	var kind string
	switch o.(type) {
	case models.NewTxOutput:
		kind = "new_tx"
	case models.BlockConnectedOutput:
		kind = "block_connected"
	case models.MempoolStatsOutput:
		kind = "mempool_stats"
	default:
		kind = "unknown"
	}
	return json.Marshal(struct {
		Type string                `json:"type"`
		Data models.PipelineOutput `json:"data"`
	}{Type: kind, Data: o})
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
