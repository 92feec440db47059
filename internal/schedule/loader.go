package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Loader reads the schedule file. It keeps no state between calls so every
// Load reflects the file as it is on disk right now.
type Loader struct {
	path   string
	logger *zap.Logger
}

// NewLoader creates a loader for the schedule file at path
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{
		path:   path,
		logger: logger.Named("schedule"),
	}
}

// Path returns the schedule file location
func (l *Loader) Path() string {
	return l.path
}

// Load reads and decodes the schedule file. Entries come back in evaluation
// order: higher priority first, definition order among equal priorities.
// Entries whose value cannot be decoded are skipped with a warning.
func (l *Loader) Load() ([]Entry, error) {
	l.logger.Debug("Loading playlist schedule", zap.String("path", l.path))

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule: %w", err)
	}

	var entries []Entry
	switch strings.ToLower(filepath.Ext(l.path)) {
	case ".yaml", ".yml":
		entries, err = l.decodeYAML(data)
	default:
		entries, err = l.decodeJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Priority > entries[j].Priority
	})

	l.logger.Debug("Playlist schedule loaded", zap.Int("entries", len(entries)))
	return entries, nil
}

// decodeJSON walks the top-level object token by token; map decoding would
// lose the definition order that first-match-wins depends on.
func (l *Loader) decodeJSON(data []byte) ([]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("schedule must be a JSON object, got %v", tok)
	}

	var entries []Entry
	index := make(map[string]int)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		playlist, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}

		var spec entrySpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			l.logger.Warn("Skipping malformed schedule entry",
				zap.String("playlist", playlist),
				zap.Error(err))
			continue
		}

		entries = l.appendEntry(entries, index, spec.toEntry(playlist))
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	return entries, nil
}

func (l *Loader) decodeYAML(data []byte) ([]Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("schedule must be a mapping, line %d", root.Line)
	}

	var entries []Entry
	index := make(map[string]int)

	for i := 0; i+1 < len(root.Content); i += 2 {
		playlist := root.Content[i].Value

		var spec entrySpec
		if err := root.Content[i+1].Decode(&spec); err != nil {
			l.logger.Warn("Skipping malformed schedule entry",
				zap.String("playlist", playlist),
				zap.Int("line", root.Content[i].Line),
				zap.Error(err))
			continue
		}

		entries = l.appendEntry(entries, index, spec.toEntry(playlist))
	}

	return entries, nil
}

// appendEntry adds e, replacing an earlier entry for the same playlist in place
func (l *Loader) appendEntry(entries []Entry, index map[string]int, e Entry) []Entry {
	if i, ok := index[e.Playlist]; ok {
		l.logger.Warn("Duplicate schedule entry, later definition wins",
			zap.String("playlist", e.Playlist))
		entries[i] = e
		return entries
	}

	index[e.Playlist] = len(entries)
	return append(entries, e)
}
