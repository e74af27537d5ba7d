package turn

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Language is the canonical BCP-47 tag for a supported game language.
type Language string

const (
	LanguageKO Language = "ko-KR"
	LanguageEN Language = "en-US"
)

var ErrUnknownLanguage = errors.New("unknown language")

func (Language) Values() []string { return []string{string(LanguageKO), string(LanguageEN)} }

// ParseLanguage accepts any tag whose base language is Korean or English.
func ParseLanguage(s string) (Language, error) {
	tag, err := language.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
	}
	base, _ := tag.Base()
	switch base.String() {
	case "ko":
		return LanguageKO, nil
	case "en":
		return LanguageEN, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
}

func (l Language) IsKorean() bool { return l == LanguageKO }

// Other returns the fallback language used when a prompt is missing.
func (l Language) Other() Language {
	if l == LanguageKO {
		return LanguageEN
	}
	return LanguageKO
}

// Short is the two-letter code used in prompt file names.
func (l Language) Short() string {
	if l == LanguageKO {
		return "ko"
	}
	return "en"
}

// UnmarshalJSON canonicalizes the tag so "ko" and "ko-KR" compare equal.
func (l *Language) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseLanguage(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
