// Package triggerfile loads trigger definitions from a directory of YAML
// files and watches it for changes.
//
// A file holds either one trigger document or a list under "triggers:".
// Definitions without an id get "<file stem>-<index>".
package triggerfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/trigger"
)

type fileDoc struct {
	Triggers []trigger.Trigger `yaml:"triggers"`
}

// IsDefinitionFile reports whether path has a YAML extension.
func IsDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ParseFile reads the definitions of one file. Definitions are returned
// unvalidated; the registry decides what to do with invalid ones.
func ParseFile(path string) ([]trigger.Trigger, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the configured triggers dir
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for i := range defs {
		if defs[i].ID == "" {
			defs[i].ID = stem + "-" + strconv.Itoa(i)
		}
	}
	return defs, nil
}

// Parse decodes every YAML document in data. Definitions without an
// enabled key are enabled.
func Parse(data []byte) ([]trigger.Trigger, error) {
	var out []trigger.Trigger
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidTrigger, err)
		}
		if isList(&node) {
			var doc fileDoc
			if err := node.Decode(&doc); err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrInvalidTrigger, err)
			}
			items := valueOf(node.Content[0], "triggers")
			for i := range doc.Triggers {
				if items == nil || i >= len(items.Content) || valueOf(items.Content[i], "enabled") == nil {
					doc.Triggers[i].Enabled = true
				}
			}
			out = append(out, doc.Triggers...)
			continue
		}
		var t trigger.Trigger
		if err := node.Decode(&t); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidTrigger, err)
		}
		if len(node.Content) == 0 || valueOf(node.Content[0], "enabled") == nil {
			t.Enabled = true
		}
		out = append(out, t)
	}
	return out, nil
}

// valueOf returns the value node of key in a mapping node.
func valueOf(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func isList(doc *yaml.Node) bool {
	if len(doc.Content) == 0 {
		return false
	}
	m := doc.Content[0]
	if m.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == "triggers" {
			return true
		}
	}
	return false
}

// File is the result of loading one definition file.
type File struct {
	Path     string
	Triggers []trigger.Trigger
	Err      error
}

// LoadDir parses every definition file in dir, sorted by name. A missing
// directory yields no files.
func LoadDir(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read triggers dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && IsDefinitionFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, n := range names {
		path := filepath.Join(dir, n)
		defs, err := ParseFile(path)
		files = append(files, File{Path: path, Triggers: defs, Err: err})
	}
	return files, nil
}
