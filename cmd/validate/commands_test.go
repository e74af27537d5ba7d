package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/unknown-world/internal/mockgen"
	"github.com/jwebster45206/unknown-world/pkg/prompts"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestSchemaCommand(t *testing.T) {
	out, err := execute("schema")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"additionalProperties":false`)
}

func TestOutputCommand(t *testing.T) {
	in := turn.TurnInput{
		Language:        turn.LanguageKO,
		InputKind:       turn.InputText,
		Text:            "주위를 둘러본다",
		EconomySnapshot: turn.CurrencyAmount{Signal: 100, MemoryShard: 5},
	}
	raw, err := turn.MarshalOutput(mockgen.Generate(in, 7, turn.ModelFast))
	require.NoError(t, err)
	dir := t.TempDir()

	t.Run("valid mock output", func(t *testing.T) {
		path := writeFile(t, dir, "good.json", string(raw))
		out, err := execute("output", path, "--signal", "100", "--shard", "5")
		require.NoError(t, err, out)
		assert.Contains(t, out, "OK   business rules")
	})

	t.Run("schema failure", func(t *testing.T) {
		path := writeFile(t, dir, "partial.json", `{"language":"ko-KR"}`)
		out, err := execute("output", path)
		assert.True(t, errors.Is(err, errInvalid))
		assert.Contains(t, out, "FAIL schema")
	})

	t.Run("balance mismatch against another snapshot", func(t *testing.T) {
		path := writeFile(t, dir, "good2.json", string(raw))
		out, err := execute("output", path, "--signal", "999", "--shard", "5")
		assert.True(t, errors.Is(err, errInvalid))
		assert.Contains(t, out, "ECONOMY_BALANCE_MISMATCH")
	})

	t.Run("unknown language flag", func(t *testing.T) {
		path := writeFile(t, dir, "good3.json", string(raw))
		_, err := execute("output", path, "--language", "fr")
		assert.ErrorIs(t, err, turn.ErrUnknownLanguage)
	})
}

func TestPromptsCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := execute("prompts", "--dir", dir)
	assert.ErrorIs(t, err, errInvalid)
	assert.Contains(t, out, "FAIL")

	for _, k := range prompts.Required {
		for _, short := range []string{"ko", "en"} {
			writeFile(t, dir, filepath.Join(string(k.Category), k.Name+"."+short+".md"), "prompt body "+short)
		}
	}
	out, err = execute("prompts", "--dir", dir)
	require.NoError(t, err, out)
	assert.NotContains(t, out, "FAIL")
}
