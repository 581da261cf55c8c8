package gamecfg

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config is the typed configuration blob carried by a generation job. The
// schema version is persisted so producer and consumer cannot silently drift.
type Config struct {
	SchemaVersion string   `json:"schema_version"`
	Theme         string   `json:"theme"`
	Player        string   `json:"player"`
	Difficulty    string   `json:"difficulty"`
	Mechanics     []string `json:"mechanics,omitempty"`
	Enemies       []string `json:"enemies,omitempty"`
	Style         string   `json:"style,omitempty"`
}

const (
	// DefaultSchemaVersion represents the config schema persisted for jobs.
	DefaultSchemaVersion = "2025-06"
	// DefaultDifficulty is applied when the request omits a difficulty.
	DefaultDifficulty = "medium"
	// DefaultStyle is the baseline art direction for generated sprites.
	DefaultStyle = "pixel art"

	// MinThemeLength and MinPlayerLength guard against prompts too short to
	// produce anything playable.
	MinThemeLength  = 3
	MinPlayerLength = 10
)

var allowedDifficulties = map[string]struct{}{
	"easy":   {},
	"medium": {},
	"hard":   {},
}

// Normalize fills server defaults for omitted fields.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = DefaultSchemaVersion
	}
	if c.Difficulty == "" {
		c.Difficulty = DefaultDifficulty
	}
	if c.Style == "" {
		c.Style = DefaultStyle
	}
	c.Theme = strings.TrimSpace(c.Theme)
	c.Player = strings.TrimSpace(c.Player)
}

// Validate ensures the config satisfies the generation contract.
func (c Config) Validate() error {
	if len(strings.TrimSpace(c.Theme)) < MinThemeLength {
		return fmt.Errorf("theme must be at least %d characters", MinThemeLength)
	}
	if len(strings.TrimSpace(c.Player)) < MinPlayerLength {
		return fmt.Errorf("player description must be at least %d characters", MinPlayerLength)
	}
	if _, ok := allowedDifficulties[c.Difficulty]; !ok {
		return fmt.Errorf("difficulty %q is not one of easy, medium, hard", c.Difficulty)
	}
	return nil
}

// Decode parses raw JSON into a normalized Config. Empty input yields a
// Config with defaults only; callers still validate before use.
func Decode(raw []byte) (Config, error) {
	var cfg Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode game config: %w", err)
		}
	}
	cfg.Normalize()
	return cfg, nil
}

// MustMarshal serializes v and panics on failure. Reserved for payloads the
// server itself constructs.
func MustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
