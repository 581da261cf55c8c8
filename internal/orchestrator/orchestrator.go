package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"server/internal/cache"
	"server/internal/domain"
	"server/internal/game"
	"server/internal/providers/imagegen"
	"server/internal/providers/textgen"
)

// Approximate provider pricing per token, used for the derived cost estimate.
const (
	inputTokenCostUSD  = 0.15 / 1_000_000
	outputTokenCostUSD = 0.60 / 1_000_000
)

// TextGenerator produces playable game source plus usage accounting.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (*textgen.Completion, error)
}

// ImageGenerator produces one sprite or background image reference.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, size, quality string) (*imagegen.Image, error)
}

// Request describes one generation run.
type Request struct {
	JobID      string              `validate:"required"`
	UserID     string              `validate:"required"`
	Template   domain.TemplateKind `validate:"required"`
	Theme      string              `validate:"required,min=3"`
	Player     string              `validate:"required,min=10"`
	Difficulty string              `validate:"required,oneof=easy medium hard"`
	Mechanics  []string
	Enemies    []string
	Style      string
	Prompt     string
}

// Options wires an Orchestrator's collaborators.
type Options struct {
	TextGen   TextGenerator
	ImageGen  ImageGenerator
	Templates game.TemplateProvider
	Artifacts domain.ArtifactStore
	Cache     *cache.Store
	Events    domain.EventPublisher
	ImageSize string
	Quality   string
	Logger    zerolog.Logger
}

// Orchestrator coordinates one generation request end-to-end: validation,
// the two concurrent AI calls, template loading, assembly and persistence.
type Orchestrator struct {
	textGen   TextGenerator
	imageGen  ImageGenerator
	templates game.TemplateProvider
	artifacts domain.ArtifactStore
	cache     *cache.Store
	events    domain.EventPublisher
	imageSize string
	quality   string
	logger    zerolog.Logger
	validate  *validator.Validate
}

// New builds an Orchestrator. All collaborators except Cache and Events are
// required.
func New(opts Options) (*Orchestrator, error) {
	if opts.TextGen == nil || opts.ImageGen == nil || opts.Templates == nil || opts.Artifacts == nil {
		return nil, fmt.Errorf("orchestrator: missing collaborator")
	}
	imageSize := opts.ImageSize
	if imageSize == "" {
		imageSize = "1024x1024"
	}
	quality := opts.Quality
	if quality == "" {
		quality = "standard"
	}
	return &Orchestrator{
		textGen:   opts.TextGen,
		imageGen:  opts.ImageGen,
		templates: opts.Templates,
		artifacts: opts.Artifacts,
		cache:     opts.Cache,
		events:    opts.Events,
		imageSize: imageSize,
		quality:   quality,
		logger:    opts.Logger,
		validate:  validator.New(),
	}, nil
}

// Generate runs the full pipeline for one request. Validation happens before
// any collaborator is touched; a failing step aborts the whole run, partial
// results are never returned.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*domain.GenerationResult, error) {
	start := time.Now()

	if err := o.validateRequest(req); err != nil {
		return nil, err
	}

	var (
		assets     domain.AssetRefs
		completion *textgen.Completion
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		refs, err := o.generateVisuals(gctx, req)
		if err != nil {
			return fmt.Errorf("visual generation: %w", err)
		}
		assets = *refs
		return nil
	})
	g.Go(func() error {
		c, err := o.textGen.GenerateText(gctx, systemPrompt(req.Template), userPrompt(req))
		if err != nil {
			return fmt.Errorf("code generation: %w", err)
		}
		completion = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tpl := o.loadTemplate(req.Template)

	meta := buildMetadata(req)
	pkg, err := game.Assemble(tpl, completion.Content, meta, assets)
	if err != nil {
		return nil, fmt.Errorf("assembly: %w", err)
	}

	artifactKey := fmt.Sprintf("artifacts/%s/game.zip", req.JobID)
	storedKey, err := o.artifacts.Write(ctx, artifactKey, pkg.Data)
	if err != nil {
		return nil, fmt.Errorf("persist artifact: %w", err)
	}

	result := &domain.GenerationResult{
		ArtifactKey: storedKey,
		Code:        completion.Content,
		Metadata:    meta,
		Usage: domain.Usage{
			InputTokens:  completion.Usage.InputTokens,
			OutputTokens: completion.Usage.OutputTokens,
			CostUSD: float64(completion.Usage.InputTokens)*inputTokenCostUSD +
				float64(completion.Usage.OutputTokens)*outputTokenCostUSD,
		},
		Assets:    assets,
		SizeBytes: pkg.SizeBytes,
		Duration:  time.Since(start),
	}

	o.populateCache(ctx, req, result)
	if o.events != nil {
		o.events.Publish(ctx, "job_completed", map[string]any{
			"job_id":   req.JobID,
			"template": string(req.Template),
		})
	}
	return result, nil
}

func (o *Orchestrator) validateRequest(req Request) error {
	if !domain.KnownTemplate(req.Template) {
		return fmt.Errorf("unknown template kind %q: %w", req.Template, domain.ErrValidation)
	}
	if err := o.validate.Struct(req); err != nil {
		return fmt.Errorf("%v: %w", firstValidationIssue(err), domain.ErrValidation)
	}
	return nil
}

// generateVisuals requests the player, enemy and background images. The three
// calls run concurrently; the first failure cancels the rest.
func (o *Orchestrator) generateVisuals(ctx context.Context, req Request) (*domain.AssetRefs, error) {
	style := req.Style
	if style == "" {
		style = "pixel art"
	}
	enemy := "a fitting enemy"
	if len(req.Enemies) > 0 {
		enemy = req.Enemies[0]
	}

	var refs domain.AssetRefs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		img, err := o.imageGen.GenerateImage(gctx,
			fmt.Sprintf("%s game sprite of %s, %s, transparent background", style, req.Player, req.Theme),
			o.imageSize, o.quality)
		if err != nil {
			return err
		}
		refs.PlayerURL = img.URL
		return nil
	})
	g.Go(func() error {
		img, err := o.imageGen.GenerateImage(gctx,
			fmt.Sprintf("%s game sprite of %s, %s, transparent background", style, enemy, req.Theme),
			o.imageSize, o.quality)
		if err != nil {
			return err
		}
		refs.EnemyURL = img.URL
		return nil
	})
	g.Go(func() error {
		img, err := o.imageGen.GenerateImage(gctx,
			fmt.Sprintf("%s game background, %s theme, wide scene", style, req.Theme),
			o.imageSize, o.quality)
		if err != nil {
			return err
		}
		refs.BackgroundURL = img.URL
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &refs, nil
}

// loadTemplate resolves the scaffold, falling back to the default kind when
// the requested one is missing rather than failing the pipeline.
func (o *Orchestrator) loadTemplate(kind domain.TemplateKind) *game.Template {
	tpl, err := o.templates.LoadTemplate(kind)
	if err == nil {
		return tpl
	}
	o.logger.Warn().Str("template", string(kind)).Err(err).
		Msg("orchestrator: template missing, using default")
	tpl, err = o.templates.LoadTemplate(domain.DefaultTemplate)
	if err != nil {
		// The default template ships with the binary; reaching this means a
		// broken build, not a recoverable request.
		panic(fmt.Sprintf("orchestrator: default template unavailable: %v", err))
	}
	return tpl
}

// populateCache is a best-effort side effect: a cache failure is logged and
// never surfaces as the generation's result. The asset manifest is cached
// separately and longer than the result, since sprite URLs outlive the
// result entry and can seed future generations for the same prompt.
func (o *Orchestrator) populateCache(ctx context.Context, req Request, result *domain.GenerationResult) {
	if o.cache == nil {
		return
	}
	key := cache.ResultKey(req.Template, req.Prompt)
	if err := o.cache.Set(ctx, key, result, cache.ResultTTL); err != nil {
		o.logger.Warn().Err(err).Str("job_id", req.JobID).Msg("orchestrator: result cache populate failed")
	}
	assetKey := cache.AssetKey(string(req.Template), req.Prompt)
	if err := o.cache.Set(ctx, assetKey, result.Assets, cache.AssetTTL); err != nil {
		o.logger.Warn().Err(err).Str("job_id", req.JobID).Msg("orchestrator: asset cache populate failed")
	}
}

func buildMetadata(req Request) domain.GameMetadata {
	title := titleCase(req.Theme)
	if len(title) > 60 {
		title = title[:60]
	}
	estimated := map[string]string{
		"easy":   "5 minutes",
		"medium": "10 minutes",
		"hard":   "20 minutes",
	}[req.Difficulty]
	return domain.GameMetadata{
		Title:         title,
		Description:   fmt.Sprintf("A %s %s game featuring %s.", req.Difficulty, req.Template, req.Player),
		Difficulty:    req.Difficulty,
		EstimatedTime: estimated,
		Controls:      controlScheme(req.Template),
	}
}

func controlScheme(kind domain.TemplateKind) string {
	switch kind {
	case domain.TemplatePlatformer:
		return "arrow keys to move, space to jump"
	case domain.TemplatePuzzle:
		return "mouse to select and swap"
	case domain.TemplateShooter:
		return "WASD to move, mouse to aim and shoot"
	case domain.TemplateRacing:
		return "arrow keys to steer and accelerate"
	default:
		return "see in-game instructions"
	}
}

func systemPrompt(kind domain.TemplateKind) string {
	return fmt.Sprintf(
		"You are an expert HTML5 game developer. Produce a complete, self-contained "+
			"%s game as JavaScript drawing on a 2D canvas context. Respond with code only.", kind)
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Theme: %s\nPlayer: %s\nDifficulty: %s\n", req.Theme, req.Player, req.Difficulty)
	if len(req.Mechanics) > 0 {
		fmt.Fprintf(&b, "Mechanics: %s\n", strings.Join(req.Mechanics, ", "))
	}
	if len(req.Enemies) > 0 {
		fmt.Fprintf(&b, "Enemies: %s\n", strings.Join(req.Enemies, ", "))
	}
	if req.Style != "" {
		fmt.Fprintf(&b, "Art style: %s\n", req.Style)
	}
	if req.Prompt != "" {
		fmt.Fprintf(&b, "Description: %s\n", req.Prompt)
	}
	return b.String()
}

func firstValidationIssue(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return fmt.Sprintf("field %s failed %s validation", f.Field(), f.Tag())
	}
	return err.Error()
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
