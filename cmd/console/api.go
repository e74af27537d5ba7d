package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jwebster45206/unknown-world/internal/middleware"
	"github.com/jwebster45206/unknown-world/internal/pipeline"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

func testConnection(client *http.Client, baseURL string) bool {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}

// streamTurn posts one turn and sends every decoded event to events. The
// channel is closed when the stream ends. It returns the server's request id.
func streamTurn(ctx context.Context, client *http.Client, baseURL string, in turn.TurnInput, events chan<- pipeline.Event) (string, error) {
	defer close(events)

	jsonData, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to marshal turn: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/turn", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	requestID := resp.Header.Get(middleware.RequestIDHeader)

	// Rejections are NDJSON too, so the body is decoded whatever the status.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	sawTerminal := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev pipeline.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return requestID, fmt.Errorf("malformed stream line: %w", err)
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return requestID, ctx.Err()
		}
		if ev.IsTerminal() {
			sawTerminal = true
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return requestID, fmt.Errorf("error reading turn stream: %w", err)
	}
	if !sawTerminal {
		return requestID, fmt.Errorf("stream ended without a final event (status %d)", resp.StatusCode)
	}
	return requestID, nil
}
