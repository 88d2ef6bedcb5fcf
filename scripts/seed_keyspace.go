//go:build ignore
// +build ignore

// Seeds a local Redis with a small signup keyspace, including the legacy and
// mismatched key shapes older site versions left behind, so the admin export
// and cmd/repair-keyspace can be exercised by hand.
//
// Usage:
//   REDIS_URL=redis://localhost:6379/0 go run scripts/seed_keyspace.go

package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/ledgerline/site/internal/keyspace"
	"github.com/ledgerline/site/internal/signup"
	"github.com/ledgerline/site/internal/store"
)

func main() {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	ctx := context.Background()
	client, err := store.Connect(ctx, redisURL, 3*time.Second)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer client.Close()
	kv := store.NewRedis(client)

	// Current-format signups go through the recorder
	rec := signup.NewRecorder(kv)
	for _, s := range []struct {
		funnel keyspace.Funnel
		sub    signup.Submission
	}{
		{keyspace.Waitlist, signup.Submission{Email: "ada@example.com", Name: "Ada"}},
		{keyspace.Waitlist, signup.Submission{Email: "grace@example.com", Name: "Grace"}},
		{keyspace.Newsletter, signup.Submission{Email: "ada@example.com", Name: "Ada", Interest: "tax"}},
		{keyspace.Newsletter, signup.Submission{Email: "alan@example.com", Name: `Alan "Bookkeeper" Turing`, Interest: "bookkeeping"}},
	} {
		if _, err := rec.Submit(ctx, s.funnel, s.sub); err != nil {
			log.Fatalf("Failed to seed %s signup: %v", s.funnel, err)
		}
		time.Sleep(2 * time.Millisecond) // ids are millisecond timestamps
	}

	// Legacy fragments and wrong-typed keys
	legacy := []struct{ key, value string }{
		{keyspace.EmailKey(keyspace.Waitlist, "1700000000000"), "legacy@example.com"},
		{keyspace.NameKey(keyspace.Waitlist, "1700000000000"), "Legacy"},
		{keyspace.EntryKey(keyspace.Newsletter, "1700000000001"), "string-entry@example.com"},
		{keyspace.EmailKey(keyspace.Newsletter, "1700000000001"), "string-entry@example.com"},
		{keyspace.InterestKey(keyspace.Newsletter, "payroll", "1700000000001"), "string-entry@example.com"},
	}
	for _, l := range legacy {
		if err := kv.Set(ctx, l.key, l.value); err != nil {
			log.Fatalf("Failed to seed %s: %v", l.key, err)
		}
	}

	log.Printf("Seeded %d signups and %d legacy keys", 4, len(legacy))
}
