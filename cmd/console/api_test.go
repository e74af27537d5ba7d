package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/unknown-world/internal/middleware"
	"github.com/jwebster45206/unknown-world/internal/pipeline"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

func ndjsonServer(t *testing.T, status int, evs ...pipeline.Event) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in turn.TurnInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set(middleware.RequestIDHeader, "req-7")
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(status)
		enc := json.NewEncoder(w)
		for _, ev := range evs {
			_ = enc.Encode(ev)
		}
	}))
}

func collect(t *testing.T, srv *httptest.Server) ([]pipeline.Event, string, error) {
	t.Helper()
	ch := make(chan pipeline.Event, 64)
	in := turn.TurnInput{Language: turn.LanguageEN, Text: "hi"}
	id, err := streamTurn(context.Background(), srv.Client(), srv.URL, in, ch)
	var got []pipeline.Event
	for ev := range ch {
		got = append(got, ev)
	}
	return got, id, err
}

func TestStreamTurn(t *testing.T) {
	final := pipeline.FinalEvent(turn.TurnOutput{Language: turn.LanguageEN, Narrative: "The door creaks."})
	srv := ndjsonServer(t, http.StatusOK,
		pipeline.StageEvent(turn.PhaseParse, pipeline.StageStart),
		pipeline.BadgesEvent(turn.AllOKBadges()),
		final,
	)
	defer srv.Close()

	got, id, err := collect(t, srv)
	require.NoError(t, err)
	assert.Equal(t, "req-7", id)
	require.Len(t, got, 3)
	assert.Equal(t, pipeline.EventFinal, got[2].Type)
	assert.Equal(t, "The door creaks.", got[2].Data.Narrative)
}

func TestStreamTurn_Rejected(t *testing.T) {
	srv := ndjsonServer(t, http.StatusBadRequest, pipeline.ErrorEvent(pipeline.CodeValidationError, "language is required"))
	defer srv.Close()

	got, _, err := collect(t, srv)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pipeline.CodeValidationError, got[0].Code)
}

func TestStreamTurn_Truncated(t *testing.T) {
	srv := ndjsonServer(t, http.StatusOK, pipeline.StageEvent(turn.PhaseParse, pipeline.StageStart))
	defer srv.Close()

	_, _, err := collect(t, srv)
	assert.Error(t, err)
}

func TestApplyEvent(t *testing.T) {
	m := NewConsoleUI(&ConsoleConfig{
		SessionID: "0123456789",
		Language:  turn.LanguageEN,
		Snapshot:  turn.CurrencyAmount{Signal: 100, MemoryShard: 5},
	}, nil)

	m.applyEvent(pipeline.StageEvent(turn.PhaseParse, pipeline.StageComplete))
	m.applyEvent(pipeline.RepairEvent(1, "Retrying"))
	out := turn.TurnOutput{
		Language:  turn.LanguageEN,
		Narrative: "You step inside.",
		Economy:   turn.EconomyOutput{BalanceAfter: turn.CurrencyAmount{Signal: 95, MemoryShard: 5}},
		UI: turn.UIOutput{ActionDeck: turn.ActionDeck{Cards: []turn.ActionCard{
			{ID: "a1", Label: "Open the chest", Enabled: true},
			{ID: "a2", Label: "Bribe the guard", Enabled: false},
		}}},
	}
	m.applyEvent(pipeline.FinalEvent(out))

	assert.Equal(t, pipeline.StageComplete, m.stages[turn.PhaseParse])
	assert.Equal(t, turn.CurrencyAmount{Signal: 95, MemoryShard: 5}, m.snapshot)
	require.Len(t, m.entries, 2)
	assert.Equal(t, entrySystem, m.entries[0].kind)
	assert.Equal(t, entry{entryNarrator, "You step inside."}, m.entries[1])

	card, err := m.pickCard([]string{"/card", "1"})
	require.NoError(t, err)
	assert.Equal(t, "a1", card.ID)
	_, err = m.pickCard([]string{"/card", "2"})
	assert.Error(t, err, "disabled card")
	_, err = m.pickCard([]string{"/card", "9"})
	assert.Error(t, err)
}
