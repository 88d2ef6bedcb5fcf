// Command repair-keyspace rewrites signup keys whose Redis type no longer
// matches the key naming convention. Run it with the site quiesced or in
// --dry-run first; repairs are not reversible.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"

	"github.com/ledgerline/site/internal/config"
	"github.com/ledgerline/site/internal/pkg/distlock"
	"github.com/ledgerline/site/internal/pkg/logger"
	"github.com/ledgerline/site/internal/repair"
	"github.com/ledgerline/site/internal/store"
)

const lockName = "repair-keyspace"

// newLocker builds the lock that serializes repair runs.
var newLocker = func(client redis.Cmdable, ttl time.Duration) distlock.Locker {
	return distlock.NewRedisLock(client, lockName, ttl)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("repair-keyspace", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", "config/config.yaml", "Path to the YAML config file")
	redisURL := flagSet.String("redis-url", "", "Redis URL (overrides config and REDIS_URL)")
	dryRun := flagSet.Bool("dry-run", false, "Report planned repairs without writing")
	fromSets := flagSet.Bool("recover-from-sets", false, "Fill missing hash fields from aggregate sets (heuristic)")

	if err := flagSet.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 2
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "FATAL: failed to load config: %v\n", err)
		return 1
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.ShouldRedact())

	url := cfg.Redis.URL
	if *redisURL != "" {
		url = *redisURL
	}
	recoverFromSets := cfg.Repair.RecoverFromSets
	if flagSet.Changed("recover-from-sets") {
		recoverFromSets = *fromSets
	}

	client, err := store.Connect(ctx, url, time.Duration(cfg.Redis.PingTimeoutSeconds)*time.Second)
	if err != nil {
		fmt.Fprintf(errOut, "FATAL: %v\n", err)
		return 1
	}
	defer client.Close()
	fmt.Fprintln(out, "✓ Redis connection established")

	lock := newLocker(client, time.Duration(cfg.Repair.LockTTLSeconds)*time.Second)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		fmt.Fprintf(errOut, "FATAL: acquiring %s lock: %v\n", lockName, err)
		return 1
	}
	if !acquired {
		fmt.Fprintf(errOut, "FATAL: another repair run holds the %s lock\n", lockName)
		return 1
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn("releasing repair lock", "error", err)
		}
	}()

	s := store.NewRedis(client)
	keys, err := s.Keys(ctx, "*")
	if err != nil {
		fmt.Fprintf(errOut, "FATAL: listing keys: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Scanning %d keys (dry-run=%t, recover-from-sets=%t)\n", len(keys), *dryRun, recoverFromSets)

	r := repair.New(s, repair.WithDryRun(*dryRun), repair.WithSetRecovery(recoverFromSets))
	actions := r.RepairKeyspace(ctx, keys)

	repair.WriteReport(out, actions, *dryRun)
	if !repair.Summarize(actions).OK() {
		return 1
	}
	return 0
}
