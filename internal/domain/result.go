package domain

import "time"

// GameMetadata is the structured description the code generator returns
// alongside the playable source.
type GameMetadata struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Difficulty    string `json:"difficulty"`
	EstimatedTime string `json:"estimated_time"`
	Controls      string `json:"controls"`
}

// Usage accounts for provider resource consumption of one generation.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// AssetRefs points at the generated visual assets.
type AssetRefs struct {
	PlayerURL     string `json:"player_url"`
	EnemyURL      string `json:"enemy_url"`
	BackgroundURL string `json:"background_url"`
}

// GenerationResult is the immutable outcome of a successful pipeline run. It
// is owned by the job that produced it.
type GenerationResult struct {
	ArtifactKey string        `json:"artifact_key"`
	Code        string        `json:"code"`
	Metadata    GameMetadata  `json:"metadata"`
	Usage       Usage         `json:"usage"`
	Assets      AssetRefs     `json:"assets"`
	SizeBytes   int64         `json:"size_bytes"`
	Duration    time.Duration `json:"duration_ns"`
}
