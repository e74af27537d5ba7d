package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/unknown-world/internal/logger"
	"github.com/jwebster45206/unknown-world/internal/services"
	"github.com/jwebster45206/unknown-world/internal/services/queue"
	queuePkg "github.com/jwebster45206/unknown-world/pkg/queue"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

const testSessionID = "00000000-0000-0000-0000-000000000001"

func main() {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	rs, err := services.NewRedisService(redisURL, logger.Discard())
	if err != nil {
		log.Fatal("Failed to configure Redis:", err)
	}
	defer rs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	fmt.Println("Connected to Redis successfully!")

	q := queue.NewTurnQueue(rs.Client())
	turns := []turn.TurnInput{
		{Language: turn.LanguageKO, Text: "주변을 둘러본다"},
		{Language: turn.LanguageEN, Text: "I open the rusted door"},
	}
	for _, in := range turns {
		in.InputKind = turn.InputText
		in.SessionID = testSessionID
		in.EconomySnapshot = turn.CurrencyAmount{Signal: 100, MemoryShard: 5}
		job := &queuePkg.TurnJob{
			RequestID:  uuid.NewString(),
			SessionID:  testSessionID,
			Input:      in,
			EnqueuedAt: time.Now().UTC(),
		}
		if err := q.Enqueue(ctx, job); err != nil {
			log.Fatal("Failed to enqueue turn:", err)
		}
		fmt.Printf("✅ Enqueued %s turn: %s\n", in.Language, job.RequestID)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		log.Fatal("Failed to get queue depth:", err)
	}
	fmt.Printf("\n📊 Queue depth: %d turns\n", depth)
	fmt.Printf("\n💡 Watch the session with: curl -N localhost:8011/api/events/%s\n", testSessionID)
	fmt.Println("   Then start the worker: go run ./cmd/worker")
}
