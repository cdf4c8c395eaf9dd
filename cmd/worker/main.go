package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tagsci/internal/config"
	"tagsci/internal/events"
	"tagsci/internal/model"
	"tagsci/internal/store"
)

// Worker consumes the event feed and maintains the daily activity
// digest dashboards read: per-date counters keyed by event kind, kept
// in Redis hashes with a retention window.
func main() {
	cfg := config.LoadDirectory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	if !redisClient.Healthy(ctx) {
		log.Println("WARNING: redis not reachable, digests will fail until it is")
	}

	feed := events.NewRedisFeed(redisClient.Client, "")
	stream, err := feed.Consume(ctx)
	if err != nil {
		log.Fatalf("feed consume init failed: %v", err)
	}

	log.Println("worker started, waiting for events...")
	for ev := range stream {
		date := model.DateString(ev.OccurredAt)
		key := "tagsci:digest:" + date

		if err := redisClient.Client.HIncrBy(ctx, key, ev.Kind, 1).Err(); err != nil {
			log.Printf("digest update failed for %s: %v", ev.Kind, err)
			continue
		}
		// Digests expire after the reporting window.
		_ = redisClient.Client.Expire(ctx, key, 30*24*time.Hour).Err()

		switch ev.Kind {
		case events.KindVerified:
			var payload struct {
				SessionID     string `json:"session_id"`
				ClassID       string `json:"class_id"`
				VerifiedCount int    `json:"verified_count"`
			}
			if err := json.Unmarshal(ev.Payload, &payload); err == nil {
				log.Printf("session %s verified: %d students (%s)", payload.SessionID, payload.VerifiedCount, payload.ClassID)
			}
		case events.KindLegacySync:
			log.Printf("offline capture reconciled on %s", date)
		}
	}

	log.Println("worker stopped")
}
