package config

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/apple/pkl-go/pkl"
)

// pklDocument is the shape of an environment module written in Pkl.
type pklDocument struct {
	Dungeon Config `pkl:"Dungeon"`
}

// LoadPkl evaluates a Pkl environment module. The config directory is the
// project root so modules can amend _default.pkl with relative imports.
func LoadPkl(ctx context.Context, dir, file string, properties map[string]string) (*Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	u, err := url.Parse("file://" + filepath.ToSlash(abs) + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse config directory URL: %w", err)
	}

	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	evaluator, err := pkl.NewProjectEvaluator(ctx, u, opts...)
	if err != nil {
		// Directories without a PklProject still evaluate with a plain evaluator.
		evaluator, err = pkl.NewEvaluator(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
		}
	}
	defer evaluator.Close()

	var doc pklDocument
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(file), &doc); err != nil {
		return nil, fmt.Errorf("failed to evaluate %s: %w", file, err)
	}
	return &doc.Dungeon, nil
}
