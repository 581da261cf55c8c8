package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"server/internal/cache"
	"server/internal/domain"
	"server/internal/game"
	"server/internal/providers/imagegen"
	"server/internal/providers/textgen"
)

type fakeTextGen struct {
	calls   int32
	delay   time.Duration
	started chan struct{}
	waitFor chan struct{}
	err     error
}

func (f *fakeTextGen) GenerateText(ctx context.Context, system, user string) (*textgen.Completion, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.started != nil {
		close(f.started)
	}
	if f.waitFor != nil {
		select {
		case <-f.waitFor:
		case <-time.After(2 * time.Second):
			return nil, errors.New("code generation never overlapped with visual generation")
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &textgen.Completion{
		Content: "const canvas = document.getElementById('game');\n" +
			strings.Repeat("function tick() {}\n", 20),
		Usage: textgen.Usage{InputTokens: 100, OutputTokens: 400},
	}, nil
}

type fakeImageGen struct {
	calls     int32
	startOnce sync.Once
	started   chan struct{}
	waitFor   chan struct{}
	err       error
}

func (f *fakeImageGen) GenerateImage(ctx context.Context, prompt, size, quality string) (*imagegen.Image, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.started != nil {
		f.startOnce.Do(func() { close(f.started) })
	}
	if f.waitFor != nil {
		select {
		case <-f.waitFor:
		case <-time.After(2 * time.Second):
			return nil, errors.New("visual generation never overlapped with code generation")
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &imagegen.Image{URL: fmt.Sprintf("https://img.example/%d.png", n)}, nil
}

type memArtifacts struct {
	mu     sync.Mutex
	writes map[string][]byte
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{writes: make(map[string][]byte)}
}

func (m *memArtifacts) Write(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes[key] = append([]byte(nil), data...)
	return key, nil
}

func validRequest() Request {
	return Request{
		JobID:      "job-1",
		UserID:     "user-1",
		Template:   domain.TemplatePlatformer,
		Theme:      "feudal japan",
		Player:     "a sneaky ninja warrior",
		Difficulty: "medium",
		Prompt:     "a ninja platformer",
	}
}

func newOrchestrator(t *testing.T, text TextGenerator, image ImageGenerator, artifacts domain.ArtifactStore) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		TextGen:   text,
		ImageGen:  image,
		Templates: game.NewStaticProvider(),
		Artifacts: artifacts,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestGenerateSuccess(t *testing.T) {
	text := &fakeTextGen{}
	image := &fakeImageGen{}
	artifacts := newMemArtifacts()
	o := newOrchestrator(t, text, image, artifacts)

	result, err := o.Generate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if result.ArtifactKey != "artifacts/job-1/game.zip" {
		t.Fatalf("ArtifactKey = %q", result.ArtifactKey)
	}
	if _, ok := artifacts.writes[result.ArtifactKey]; !ok {
		t.Fatal("artifact not persisted")
	}
	if result.SizeBytes == 0 {
		t.Fatal("SizeBytes not set")
	}
	if result.Usage.InputTokens != 100 || result.Usage.OutputTokens != 400 {
		t.Fatalf("usage = %+v", result.Usage)
	}
	if result.Usage.CostUSD <= 0 {
		t.Fatalf("cost not derived: %v", result.Usage.CostUSD)
	}
	if result.Assets.PlayerURL == "" || result.Assets.EnemyURL == "" || result.Assets.BackgroundURL == "" {
		t.Fatalf("assets incomplete: %+v", result.Assets)
	}
	if result.Metadata.Title != "Feudal Japan" {
		t.Fatalf("title = %q", result.Metadata.Title)
	}
	if image.calls != 3 {
		t.Fatalf("image calls = %d, want 3", image.calls)
	}
}

func TestValidationFailsBeforeAnyCollaboratorCall(t *testing.T) {
	text := &fakeTextGen{}
	image := &fakeImageGen{}
	o := newOrchestrator(t, text, image, newMemArtifacts())

	req := validRequest()
	req.Theme = "ab"

	_, err := o.Generate(context.Background(), req)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if text.calls != 0 || image.calls != 0 {
		t.Fatalf("collaborators were invoked: text=%d image=%d", text.calls, image.calls)
	}
}

func TestValidationRejectsUnknownTemplate(t *testing.T) {
	o := newOrchestrator(t, &fakeTextGen{}, &fakeImageGen{}, newMemArtifacts())

	req := validRequest()
	req.Template = "roguelike"
	if _, err := o.Generate(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}

	req = validRequest()
	req.Difficulty = "impossible"
	if _, err := o.Generate(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}

	req = validRequest()
	req.Player = "short"
	if _, err := o.Generate(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestGenerationCallsRunConcurrently(t *testing.T) {
	textStarted := make(chan struct{})
	imageStarted := make(chan struct{})
	// Each side blocks until the other has started; sequential execution
	// would time out inside a fake and fail the run.
	text := &fakeTextGen{started: textStarted, waitFor: imageStarted, delay: 50 * time.Millisecond}
	image := &fakeImageGen{started: imageStarted, waitFor: textStarted}
	o := newOrchestrator(t, text, image, newMemArtifacts())

	if _, err := o.Generate(context.Background(), validRequest()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

func TestVisualFailureAbortsRun(t *testing.T) {
	text := &fakeTextGen{}
	image := &fakeImageGen{err: fmt.Errorf("sprite service down: %w", domain.ErrProviderFailure)}
	artifacts := newMemArtifacts()
	o := newOrchestrator(t, text, image, artifacts)

	_, err := o.Generate(context.Background(), validRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("error = %v", err)
	}
	if len(artifacts.writes) != 0 {
		t.Fatal("partial result persisted")
	}
}

func TestCodeFailureAbortsRun(t *testing.T) {
	text := &fakeTextGen{err: &textgen.RetryExhaustedError{Attempts: 3, Err: errors.New("overloaded")}}
	artifacts := newMemArtifacts()
	o := newOrchestrator(t, text, &fakeImageGen{}, artifacts)

	_, err := o.Generate(context.Background(), validRequest())
	var exhausted *textgen.RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want retry exhaustion", err)
	}
	if len(artifacts.writes) != 0 {
		t.Fatal("partial result persisted")
	}
}

func TestGeneratePopulatesResultAndAssetCaches(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewStore(client)

	o, err := New(Options{
		TextGen:   &fakeTextGen{},
		ImageGen:  &fakeImageGen{},
		Templates: game.NewStaticProvider(),
		Artifacts: newMemArtifacts(),
		Cache:     store,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := validRequest()
	result, err := o.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var cachedResult domain.GenerationResult
	found, err := store.Get(context.Background(), cache.ResultKey(req.Template, req.Prompt), &cachedResult)
	if err != nil || !found {
		t.Fatalf("result not cached: found=%v err=%v", found, err)
	}
	if cachedResult.ArtifactKey != result.ArtifactKey {
		t.Fatalf("cached ArtifactKey = %q, want %q", cachedResult.ArtifactKey, result.ArtifactKey)
	}

	var cachedAssets domain.AssetRefs
	found, err = store.Get(context.Background(), cache.AssetKey(string(req.Template), req.Prompt), &cachedAssets)
	if err != nil || !found {
		t.Fatalf("assets not cached: found=%v err=%v", found, err)
	}
	if cachedAssets != result.Assets {
		t.Fatalf("cached assets = %+v, want %+v", cachedAssets, result.Assets)
	}
}

func TestCustomTemplateFallsBackToDefault(t *testing.T) {
	o := newOrchestrator(t, &fakeTextGen{}, &fakeImageGen{}, newMemArtifacts())

	req := validRequest()
	req.Template = domain.TemplateCustom

	result, err := o.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.ArtifactKey == "" {
		t.Fatal("no artifact produced")
	}
}
