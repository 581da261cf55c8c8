package game

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"server/internal/domain"
)

func TestLoadTemplateKnownKinds(t *testing.T) {
	provider := NewStaticProvider()
	for _, kind := range []domain.TemplateKind{
		domain.TemplatePlatformer, domain.TemplatePuzzle, domain.TemplateShooter, domain.TemplateRacing,
	} {
		tpl, err := provider.LoadTemplate(kind)
		if err != nil {
			t.Fatalf("LoadTemplate(%s): %v", kind, err)
		}
		if !strings.Contains(tpl.HTML, "<canvas") {
			t.Fatalf("%s template HTML missing canvas", kind)
		}
	}
}

func TestLoadTemplateUnknownKind(t *testing.T) {
	provider := NewStaticProvider()
	_, err := provider.LoadTemplate(domain.TemplateCustom)
	if !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("error = %v, want ErrTemplateNotFound", err)
	}
}

func TestAssemble(t *testing.T) {
	provider := NewStaticProvider()
	tpl, err := provider.LoadTemplate(domain.TemplatePlatformer)
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}

	meta := domain.GameMetadata{
		Title:       "Ninja Run",
		Description: "A fast ninja platformer.",
		Difficulty:  "medium",
		Controls:    "arrows + space",
	}
	assets := domain.AssetRefs{PlayerURL: "https://img.example/p.png"}

	pkg, err := Assemble(tpl, "function gameLoop() { requestAnimationFrame(gameLoop); }", meta, assets)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if pkg.SizeBytes != int64(len(pkg.Data)) {
		t.Fatalf("SizeBytes = %d, data = %d", pkg.SizeBytes, len(pkg.Data))
	}

	zr, err := zip.NewReader(bytes.NewReader(pkg.Data), int64(len(pkg.Data)))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}

	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		files[f.Name] = string(data)
	}

	for _, name := range []string{"index.html", "game.js", "README.md", "metadata.json", "assets.json"} {
		if _, ok := files[name]; !ok {
			t.Fatalf("archive missing %s", name)
		}
	}
	if !strings.Contains(files["game.js"], "gameLoop") {
		t.Fatal("generated code not injected into game.js")
	}
	if strings.Contains(files["game.js"], generatedMarker) {
		t.Fatal("marker left in assembled game.js")
	}
	if !strings.Contains(files["README.md"], "Ninja Run") {
		t.Fatal("readme not rebuilt from metadata")
	}
}

func TestAssembleRequiresCode(t *testing.T) {
	provider := NewStaticProvider()
	tpl, _ := provider.LoadTemplate(domain.TemplatePlatformer)
	if _, err := Assemble(tpl, "   ", domain.GameMetadata{}, domain.AssetRefs{}); err == nil {
		t.Fatal("expected error for empty code")
	}
}
