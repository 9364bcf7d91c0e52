// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/echa/log"

	"blockwatch.cc/alarmclock/pkg/factory"
	"blockwatch.cc/alarmclock/pkg/ledger"
)

const (
	FACTORY_ADDRESS             = ledger.AccountID("factory.alarm")
	BLOCK_SCHEDULER_ADDRESS     = ledger.AccountID("block.scheduler.alarm")
	TIMESTAMP_SCHEDULER_ADDRESS = ledger.AccountID("timestamp.scheduler.alarm")
)

var (
	port         string
	blockTime    time.Duration
	budgetLimit  uint64
	feeRecipient string
	flags        = flag.NewFlagSet("node", flag.ContinueOnError)
)

func init() {
	flags.Usage = func() {}
	flags.StringVar(&port, "port", envOr("ALARM_NODE_PORT", "8000"), "HTTP server port")
	flags.DurationVar(&blockTime, "blocktime", envDuration("ALARM_BLOCK_TIME", 12*time.Second), "block interval, 0 disables the block producer")
	flags.Uint64Var(&budgetLimit, "budget", envUint("ALARM_BUDGET_LIMIT", ledger.DefaultConfig().BudgetLimit), "max budget per transaction")
	flags.StringVar(&feeRecipient, "fees", envOr("ALARM_FEE_RECIPIENT", "fees.alarm"), "donation benefactor used by the schedulers")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warnf("ignoring invalid %s=%q", key, v)
	}
	return def
}

func envUint(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
		log.Warnf("ignoring invalid %s=%q", key, v)
	}
	return def
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

// Node is an in-memory ledger with the alarm contracts deployed at genesis.
type Node struct {
	ledger     *ledger.Ledger
	factory    *factory.Factory
	tracker    *factory.Tracker
	schedulers map[ledger.Unit]*factory.Scheduler
	metrics    *Metrics
}

func NewNode(cfg ledger.Config, fees ledger.AccountID) (*Node, error) {
	l := ledger.New(cfg)
	f := factory.New(FACTORY_ADDRESS)
	n := &Node{
		ledger:  l,
		factory: f,
		tracker: factory.NewTracker(),
		schedulers: map[ledger.Unit]*factory.Scheduler{
			ledger.UnitBlock:     factory.NewBlockScheduler(BLOCK_SCHEDULER_ADDRESS, f, fees),
			ledger.UnitTimestamp: factory.NewTimestampScheduler(TIMESTAMP_SCHEDULER_ADDRESS, f, fees),
		},
		metrics: NewMetrics(),
	}
	if err := l.Deploy(f.Address(), f); err != nil {
		return nil, err
	}
	for _, s := range n.schedulers {
		if err := l.Deploy(s.Address(), s); err != nil {
			return nil, err
		}
	}
	if err := n.tracker.Subscribe(l.Bus()); err != nil {
		return nil, err
	}
	if err := n.metrics.Subscribe(l.Bus()); err != nil {
		return nil, err
	}
	return n, nil
}

// Produces one block per tick until ctx is done
func (n *Node) produce(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	secs := uint64(interval / time.Second)
	if secs == 0 {
		secs = 1
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.mine(1, secs)
		}
	}
}

func (n *Node) mine(blocks, seconds uint64) {
	n.ledger.Mine(blocks, seconds)
	height, ts := n.ledger.Height(), n.ledger.Timestamp()
	pruned := n.tracker.Prune(ledger.UnitBlock, height) + n.tracker.Prune(ledger.UnitTimestamp, ts)
	n.metrics.Height.Set(float64(height))
	n.metrics.Tracked.Set(float64(n.tracker.Len()))
	if pruned > 0 {
		log.Debugf("block %d: pruned %d expired requests", height, pruned)
	}
}

func run() error {
	err := flags.Parse(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			fmt.Printf("Usage: %s [flags]\n", os.Args[0])
			fmt.Println("\nFlags")
			flags.PrintDefaults()
			return nil
		}
		return err
	}
	if budgetLimit == 0 {
		return fmt.Errorf("Empty budget limit")
	}

	cfg := ledger.DefaultConfig()
	cfg.BudgetLimit = budgetLimit
	cfg.GenesisTime = uint64(time.Now().Unix())
	node, err := NewNode(cfg, ledger.AccountID(feeRecipient))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if blockTime > 0 {
		log.Infof("Producing blocks every %s", blockTime)
		go node.produce(ctx, blockTime)
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           node.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdown)
	}()

	log.Infof("Listening on :%s", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
