package game

import (
	"fmt"

	"server/internal/domain"
)

// Template is the static scaffold a generated game is assembled into.
type Template struct {
	HTML   string
	JS     string
	Readme string
}

// TemplateProvider resolves a template by kind. Implementations raise
// domain.ErrTemplateNotFound for unknown kinds; the orchestrator treats that
// as "fall back to the default kind", never as a pipeline failure.
type TemplateProvider interface {
	LoadTemplate(kind domain.TemplateKind) (*Template, error)
}

// StaticProvider serves the built-in template set.
type StaticProvider struct {
	templates map[domain.TemplateKind]*Template
}

// NewStaticProvider builds the provider with one template per shipped kind.
// The custom kind intentionally has no scaffold of its own.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		templates: map[domain.TemplateKind]*Template{
			domain.TemplatePlatformer: builtinTemplate("Platformer", "Arrow keys to move, space to jump."),
			domain.TemplatePuzzle:     builtinTemplate("Puzzle", "Click tiles to swap them."),
			domain.TemplateShooter:    builtinTemplate("Shooter", "WASD to move, mouse to aim and shoot."),
			domain.TemplateRacing:     builtinTemplate("Racing", "Arrow keys to steer and accelerate."),
		},
	}
}

// LoadTemplate returns the template for kind or domain.ErrTemplateNotFound.
func (p *StaticProvider) LoadTemplate(kind domain.TemplateKind) (*Template, error) {
	tpl, ok := p.templates[kind]
	if !ok {
		return nil, fmt.Errorf("template %q: %w", kind, domain.ErrTemplateNotFound)
	}
	return tpl, nil
}

func builtinTemplate(name, controls string) *Template {
	return &Template{
		HTML: fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body>
<canvas id="game" width="800" height="600"></canvas>
<script src="game.js"></script>
</body>
</html>
`, name),
		JS: fmt.Sprintf(`// %s scaffold. Generated game code is injected below the marker.
const canvas = document.getElementById('game');
const ctx = canvas.getContext('2d');

/* __GENERATED_GAME__ */
`, name),
		Readme: fmt.Sprintf("# %s\n\n%s\n\nOpen index.html in a browser to play.\n", name, controls),
	}
}

var _ TemplateProvider = (*StaticProvider)(nil)
