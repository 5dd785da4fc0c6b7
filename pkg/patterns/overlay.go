package patterns

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/wisbric/aegis/internal/filecache"
)

// Overlay loads a JSON document of additional/overriding pattern rules from
// a configured directory, re-reading it whenever its modification time
// changes. It never fails fatally: a missing or invalid file falls back to
// an empty overlay so the built-in table is always available.
type Overlay struct {
	path   string
	logger *slog.Logger
	cache  filecache.Cache[map[string]Rule]
}

// NewOverlay returns an Overlay reading "<dir>/patterns.json".
func NewOverlay(dir string, logger *slog.Logger) *Overlay {
	return &Overlay{
		path:   filepath.Join(dir, "patterns.json"),
		logger: logger,
	}
}

// Rules returns the current overlay rules, refreshed from disk if the file's
// mtime has changed since the last call.
func (o *Overlay) Rules() map[string]Rule {
	return o.cache.Get(
		o.path,
		o.load,
		func() map[string]Rule { return nil },
		func(err error) map[string]Rule {
			o.logger.Error("failed to load custom patterns", "path", o.path, "error", err)
			return nil
		},
	)
}

func (o *Overlay) load(path string) (map[string]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	rules := make(map[string]Rule, len(doc))
	for name, body := range doc {
		if strings.HasPrefix(name, "_") {
			continue
		}
		var r Rule
		if err := json.Unmarshal(body, &r); err != nil {
			continue
		}
		if r.Pattern == "" {
			continue
		}
		rules[name] = r
	}

	o.logger.Info("loaded custom patterns", "count", len(rules))
	return rules, nil
}
