package cli

import (
	"fmt"
	"os"

	"github.com/yairfalse/threatforge/pkg/config"
	"github.com/yairfalse/threatforge/pkg/intelligence/behavior"
	"github.com/yairfalse/threatforge/pkg/registry"
	"go.uber.org/zap"
)

// catalogSet is a populated registry and the compatibility table its
// catalogs contributed to.
type catalogSet struct {
	registry *registry.Registry
	compat   *registry.CompatibilityTable
	loaded   map[string]int
}

// loadCatalogs registers the built-in blueprints when enabled and then every
// catalog path, in order. Later catalogs may not redefine earlier types.
func loadCatalogs(logger *zap.Logger, cfg config.CatalogConfig) (*catalogSet, error) {
	reg, err := registry.New(logger.Named("registry"))
	if err != nil {
		return nil, err
	}
	lib := behavior.DefaultLibrary()
	compat := registry.DefaultCompatibility()

	set := &catalogSet{registry: reg, compat: compat, loaded: make(map[string]int)}
	if cfg.Builtins {
		if err := registry.RegisterDefaults(reg, lib); err != nil {
			return nil, fmt.Errorf("failed to register built-in blueprints: %w", err)
		}
		set.loaded["builtin"] = reg.Len()
	}

	loader, err := registry.NewLoader(logger.Named("catalog"), reg, lib, compat)
	if err != nil {
		return nil, err
	}
	for _, path := range cfg.Paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}

		var n int
		if info.IsDir() {
			n, err = loader.LoadDirectory(path)
		} else {
			n, err = loader.LoadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
		set.loaded[path] = n
		logger.Debug("Loaded catalog", zap.String("path", path), zap.Int("blueprints", n))
	}

	if reg.Len() == 0 {
		return nil, fmt.Errorf("no blueprints registered: enable catalog.builtins or pass --catalog")
	}
	return set, nil
}
