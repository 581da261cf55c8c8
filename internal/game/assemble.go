package game

import (
	"fmt"
	"strings"

	"server/internal/domain"
	"server/internal/domain/gamecfg"
	"server/pkg/zip"
)

const generatedMarker = "/* __GENERATED_GAME__ */"

// Package is the downloadable artifact produced for one job.
type Package struct {
	Data      []byte
	SizeBytes int64
}

// Assemble merges the template scaffold, the generated game source, the
// metadata and the asset manifest into a single zip package.
func Assemble(tpl *Template, code string, meta domain.GameMetadata, assets domain.AssetRefs) (*Package, error) {
	if tpl == nil {
		return nil, fmt.Errorf("assemble: template is required")
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("assemble: generated code is required")
	}

	js := tpl.JS
	if strings.Contains(js, generatedMarker) {
		js = strings.Replace(js, generatedMarker, code, 1)
	} else {
		js = js + "\n" + code
	}

	readme := tpl.Readme
	if meta.Title != "" {
		readme = fmt.Sprintf("# %s\n\n%s\n\nControls: %s\nDifficulty: %s\nEstimated play time: %s\n",
			meta.Title, meta.Description, meta.Controls, meta.Difficulty, meta.EstimatedTime)
	}

	data, err := zip.Archive([]zip.Entry{
		{Name: "index.html", Data: []byte(tpl.HTML)},
		{Name: "game.js", Data: []byte(js)},
		{Name: "README.md", Data: []byte(readme)},
		{Name: "metadata.json", Data: gamecfg.MustMarshal(meta)},
		{Name: "assets.json", Data: gamecfg.MustMarshal(assets)},
	})
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	return &Package{Data: data, SizeBytes: int64(len(data))}, nil
}
