package main

import (
	"fmt"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/jwebster45206/unknown-world/pkg/turn"
)

type ConsoleConfig struct {
	APIBaseURL string
	SessionID  string
	Language   turn.Language
	Snapshot   turn.CurrencyAmount
}

func main() {
	lang, err := turn.ParseLanguage(getEnv("UW_LANGUAGE", "ko-KR"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid UW_LANGUAGE: %v\n", err)
		os.Exit(1)
	}

	cfg := &ConsoleConfig{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8011"),
		SessionID:  uuid.NewString(),
		Language:   lang,
		Snapshot:   turn.CurrencyAmount{Signal: 100, MemoryShard: 5},
	}

	// No client timeout: the server bounds every turn with its own deadline.
	client := &http.Client{}

	if !testConnection(client, cfg.APIBaseURL) {
		fmt.Fprintf(os.Stderr, "Could not connect to API at %s. Please ensure the API is running.\n", cfg.APIBaseURL)
		os.Exit(1)
	}

	p := tea.NewProgram(NewConsoleUI(cfg, client),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
