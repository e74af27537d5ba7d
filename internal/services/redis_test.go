package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisService_Basic(t *testing.T) {
	mr := miniredis.RunT(t)

	redisService, err := NewRedisService(mr.Addr(), discardLogger())
	if err != nil {
		t.Fatalf("Failed to create Redis service: %v", err)
	}
	defer func() {
		if err := redisService.Close(); err != nil {
			t.Errorf("Failed to close Redis service: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisService.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if err := redisService.Client().Set(ctx, "k", "v", 0).Err(); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Errorf("Expected 'v', got '%s'", got)
	}
}

func TestRedisService_URL(t *testing.T) {
	mr := miniredis.RunT(t)

	redisService, err := NewRedisService("redis://"+mr.Addr()+"/0", discardLogger())
	if err != nil {
		t.Fatalf("Failed to create Redis service: %v", err)
	}
	defer func() { _ = redisService.Close() }()

	if err := redisService.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	if _, err := NewRedisService("redis://localhost:notaport", discardLogger()); err == nil {
		t.Error("Expected error for malformed URL")
	}
}

func TestRedisService_WaitForConnection(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr := miniredis.RunT(t)
		redisService, err := NewRedisService(mr.Addr(), discardLogger())
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = redisService.Close() }()

		if err := redisService.WaitForConnection(context.Background(), 3, 10*time.Millisecond); err != nil {
			t.Errorf("Expected connection, got %v", err)
		}
	})

	t.Run("connection timeout", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		redisService, err := NewRedisService(addr, discardLogger())
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = redisService.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		if err := redisService.WaitForConnection(ctx, 30, 50*time.Millisecond); err == nil {
			t.Error("Expected timeout error, got nil")
		}
	})
}
