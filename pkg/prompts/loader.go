package prompts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/unknown-world/pkg/turn"
)

type Category string

const (
	CategorySystem Category = "system"
	CategoryTurn   Category = "turn"
	CategoryImage  Category = "image"
	CategoryScan   Category = "scan"
)

// Prompt names consumed by the orchestrator.
const (
	NameGameMaster       = "game_master"
	NameTurnInstructions = "turn_instructions"
	NameImageGuidelines  = "image_guidelines"
	NameSceneAffordances = "scene_affordances"
)

// Required lists every prompt the service needs at start-up.
var Required = []Key{
	{CategorySystem, NameGameMaster},
	{CategoryTurn, NameTurnInstructions},
	{CategoryImage, NameImageGuidelines},
	{CategoryScan, NameSceneAffordances},
}

var ErrPromptNotFound = errors.New("prompt not found")

type Key struct {
	Category Category
	Name     string
}

func (k Key) String() string { return string(k.Category) + "/" + k.Name }

// Meta is the optional front matter of a prompt file.
type Meta struct {
	ID          string `yaml:"id"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	Language    string `yaml:"language"`
}

// Prompt is a loaded prompt body. Language is the language actually read,
// which differs from the requested one after a fallback.
type Prompt struct {
	Body     string
	Meta     Meta
	Language turn.Language
	Path     string
}

// Loader reads prompt markdown from dir/{category}/{name}.{ko|en}.md.
// Outside hot-reload mode results are memoized and each key is read by a
// single caller.
type Loader struct {
	dir       string
	hotReload bool
	cache     *lru.Cache[string, Prompt]
	group     singleflight.Group
	log       *slog.Logger
}

func NewLoader(dir string, hotReload bool, log *slog.Logger) (*Loader, error) {
	cache, err := lru.New[string, Prompt](256)
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt cache: %w", err)
	}
	return &Loader{dir: dir, hotReload: hotReload, cache: cache, log: log}, nil
}

// Load returns the body of a prompt with metadata stripped.
func (l *Loader) Load(category Category, name string, lang turn.Language) (string, error) {
	p, err := l.LoadPrompt(category, name, lang)
	if err != nil {
		return "", err
	}
	return p.Body, nil
}

func (l *Loader) LoadPrompt(category Category, name string, lang turn.Language) (Prompt, error) {
	key := fmt.Sprintf("%s/%s/%s", category, name, lang)
	if l.hotReload {
		return l.read(category, name, lang)
	}
	if p, ok := l.cache.Get(key); ok {
		return p, nil
	}
	v, err, _ := l.group.Do(key, func() (any, error) {
		if p, ok := l.cache.Get(key); ok {
			return p, nil
		}
		p, err := l.read(category, name, lang)
		if err != nil {
			return Prompt{}, err
		}
		l.cache.Add(key, p)
		return p, nil
	})
	if err != nil {
		return Prompt{}, err
	}
	return v.(Prompt), nil
}

func (l *Loader) path(category Category, name string, lang turn.Language) string {
	return filepath.Join(l.dir, string(category), name+"."+lang.Short()+".md")
}

func (l *Loader) read(category Category, name string, lang turn.Language) (Prompt, error) {
	for _, candidate := range []turn.Language{lang, lang.Other()} {
		path := l.path(category, name, candidate)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Prompt{}, fmt.Errorf("failed to read prompt %s: %w", path, err)
		}
		if candidate != lang {
			l.log.Warn("Prompt missing for language, using fallback",
				"prompt", category, "name", name, "requested", lang, "used", candidate)
		}
		body, meta, err := parseFile(data)
		if err != nil {
			return Prompt{}, fmt.Errorf("failed to parse prompt %s: %w", path, err)
		}
		return Prompt{Body: body, Meta: meta, Language: candidate, Path: path}, nil
	}
	return Prompt{}, fmt.Errorf("%w: %s/%s (%s)", ErrPromptNotFound, category, name, lang)
}

// parseFile strips a leading YAML front matter or <prompt_meta> block.
func parseFile(data []byte) (string, Meta, error) {
	var meta Meta
	text := strings.TrimLeft(string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))), " \t\r\n")

	switch {
	case strings.HasPrefix(text, "---"):
		rest := strings.TrimPrefix(text, "---")
		end := strings.Index(rest, "\n---")
		if end < 0 {
			return "", meta, errors.New("unterminated front matter")
		}
		if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
			return "", meta, fmt.Errorf("invalid front matter: %w", err)
		}
		text = rest[end+len("\n---"):]
	case strings.HasPrefix(text, "<prompt_meta>"):
		end := strings.Index(text, "</prompt_meta>")
		if end < 0 {
			return "", meta, errors.New("unterminated prompt_meta block")
		}
		// prompt_meta content is free-form; structured fields are optional
		_ = yaml.Unmarshal([]byte(text[len("<prompt_meta>"):end]), &meta)
		text = text[end+len("</prompt_meta>"):]
	}
	return strings.TrimSpace(text), meta, nil
}

// Purge drops every cached prompt.
func (l *Loader) Purge() {
	l.cache.Purge()
}

// Check loads every key for both languages and returns the first failure.
func (l *Loader) Check(keys []Key) error {
	for _, k := range keys {
		for _, lang := range []turn.Language{turn.LanguageKO, turn.LanguageEN} {
			if _, err := l.LoadPrompt(k.Category, k.Name, lang); err != nil {
				return err
			}
		}
	}
	return nil
}

// Watch purges the cache whenever a file under the prompt directory changes.
// It blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create prompt watcher: %w", err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch prompt dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.Purge()
			l.log.Info("Prompt changed, cache purged", "file", filepath.Base(event.Name), "op", event.Op.String())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("Prompt watcher error", "error", err)
		}
	}
}
