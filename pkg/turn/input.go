package turn

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type InputKind string

const (
	InputText  InputKind = "text"
	InputClick InputKind = "click"
	InputDrop  InputKind = "drop"
)

// ClickInput is a tap on the scene image in 0..1000 normalized coordinates.
type ClickInput struct {
	ObjectID string `json:"object_id,omitempty"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

// DropInput is an inventory item dragged onto the scene.
type DropInput struct {
	ItemID         string `json:"item_id"`
	TargetObjectID string `json:"target_object_id,omitempty"`
	X              *int   `json:"x,omitempty"`
	Y              *int   `json:"y,omitempty"`
}

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type ClientInfo struct {
	Viewport *Viewport `json:"viewport,omitempty"`
	Theme    string    `json:"theme,omitempty"`
}

// TurnInput is one player turn as sent by the client. It is not modified
// after ParseInput returns.
type TurnInput struct {
	Language        Language       `json:"language"`
	InputKind       InputKind      `json:"input_kind,omitempty"`
	Text            string         `json:"text"`
	ActionID        string         `json:"action_id,omitempty"`
	Click           *ClickInput    `json:"click,omitempty"`
	Drop            *DropInput     `json:"drop,omitempty"`
	Client          *ClientInfo    `json:"client,omitempty"`
	EconomySnapshot CurrencyAmount `json:"economy_snapshot"`
	SceneContext    string         `json:"scene_context,omitempty"`
	WorldContext    string         `json:"world_context,omitempty"`
	SceneImageURL   string         `json:"scene_image_url,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	Seed            *int64         `json:"seed,omitempty"`
}

// ParseInput decodes and checks a request body. Every error is an input
// validation failure.
func ParseInput(body []byte) (TurnInput, error) {
	var in TurnInput
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, ErrUnknownLanguage) {
			return TurnInput{}, err
		}
		return TurnInput{}, fmt.Errorf("invalid request body: %w", err)
	}
	if err := in.Validate(); err != nil {
		return TurnInput{}, err
	}
	return in, nil
}

// Validate checks field constraints and fills the default input kind.
func (in *TurnInput) Validate() error {
	if in.Language == "" {
		return fmt.Errorf("%w: language is required", ErrUnknownLanguage)
	}
	if in.EconomySnapshot.Signal < 0 || in.EconomySnapshot.MemoryShard < 0 {
		return errors.New("economy_snapshot values must be non-negative")
	}
	if in.InputKind == "" {
		switch {
		case in.Click != nil:
			in.InputKind = InputClick
		case in.Drop != nil:
			in.InputKind = InputDrop
		default:
			in.InputKind = InputText
		}
	}
	switch in.InputKind {
	case InputText:
	case InputClick:
		if in.Click == nil {
			return errors.New("input_kind click requires click")
		}
		if !inRange(in.Click.X) || !inRange(in.Click.Y) {
			return errors.New("click coordinates must be within 0..1000")
		}
	case InputDrop:
		if in.Drop == nil || strings.TrimSpace(in.Drop.ItemID) == "" {
			return errors.New("input_kind drop requires drop.item_id")
		}
		if (in.Drop.X != nil && !inRange(*in.Drop.X)) || (in.Drop.Y != nil && !inRange(*in.Drop.Y)) {
			return errors.New("drop coordinates must be within 0..1000")
		}
	default:
		return fmt.Errorf("unknown input_kind %q", in.InputKind)
	}
	return nil
}

func inRange(v int) bool { return v >= 0 && v <= BoxScale }

// Utterance renders the player's action as a single line for prompts and
// trigger matching.
func (in TurnInput) Utterance() string {
	return strings.TrimSpace(in.utterance())
}

func (in TurnInput) utterance() string {
	switch in.InputKind {
	case InputClick:
		if in.Click.ObjectID != "" {
			return fmt.Sprintf("[click object=%s at (%d,%d)] %s", in.Click.ObjectID, in.Click.X, in.Click.Y, in.Text)
		}
		return fmt.Sprintf("[click at (%d,%d)] %s", in.Click.X, in.Click.Y, in.Text)
	case InputDrop:
		target := in.Drop.TargetObjectID
		if target == "" {
			target = "scene"
		}
		return fmt.Sprintf("[drop item=%s onto %s] %s", in.Drop.ItemID, target, in.Text)
	}
	return in.Text
}
