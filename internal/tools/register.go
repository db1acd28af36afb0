package tools

import (
	"fmt"

	"github.com/aide-chat/aide/internal/config"
	"github.com/aide-chat/aide/internal/toolkit"
)

// RegisterAll registers the builtin toolset enabled by cfg and freezes the
// registry.
func RegisterAll(registry *toolkit.Registry, cfg config.ToolsConfig) error {
	var fns []toolkit.NativeFunction

	fns = append(fns, Calculator())
	fns = append(fns, NewNotebook().Tools()...)
	if cfg.Files.Enabled {
		fns = append(fns, FileTools(cfg.Files.Root)...)
	}
	if cfg.Shell.Enabled {
		fns = append(fns, Shell(cfg.Shell.Timeout))
	}
	if cfg.WebSearch.Enabled {
		fns = append(fns, WebSearch(cfg.WebSearch.BaseURL, nil))
	}
	if cfg.Reddit.Enabled {
		fns = append(fns, Reddit("", cfg.Reddit.UserAgent, nil))
	}

	for _, fn := range fns {
		if err := registry.RegisterNative(fn); err != nil {
			return fmt.Errorf("registering %s: %w", fn.Name, err)
		}
	}
	registry.Freeze()
	return nil
}
