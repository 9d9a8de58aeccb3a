package configstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store reads and writes dot-addressed keys in a YAML settings document.
type Store struct {
	path string
}

// New creates a store backed by the settings file at path. The file does not
// have to exist yet; the first Set creates it.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("settings path is required")
	}
	return &Store{path: path}, nil
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the scalar value at the dot-separated key path, or def when the
// path is missing, not a scalar, or the file does not exist.
func (s *Store) Get(keyPath, def string) string {
	root, err := s.load()
	if err != nil {
		return def
	}

	node := findNode(documentContent(root), strings.Split(keyPath, "."))
	if node == nil || node.Kind != yaml.ScalarNode {
		return def
	}
	return node.Value
}

// GetInt returns the integer value at the key path, or def when missing or
// not parseable.
func (s *Store) GetInt(keyPath string, def int) int {
	raw := s.Get(keyPath, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// Set writes value at the dot-separated key path, creating intermediate
// mappings as needed. The whole document is rewritten; unrelated keys,
// comments, and ordering are preserved.
func (s *Store) Set(keyPath, value string) error {
	root, err := s.load()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		root = emptyDocument()
	}

	segments := strings.Split(keyPath, ".")
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("invalid key path %q", keyPath)
		}
	}

	if err := setNode(documentContent(root), segments, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", keyPath, err)
	}

	return s.save(root)
}

// SetInt writes an integer value at the key path.
func (s *Store) SetInt(keyPath string, value int) error {
	return s.Set(keyPath, strconv.Itoa(value))
}

// load parses the settings file into a document node.
func (s *Store) load() (*yaml.Node, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", s.path, err)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return emptyDocument(), nil
	}
	return &root, nil
}

// save writes the document atomically next to the target path.
func (s *Store) save(root *yaml.Node) error {
	data, err := yaml.Marshal(documentContent(root))
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close settings file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

// emptyDocument returns a document node containing an empty mapping.
func emptyDocument() *yaml.Node {
	return &yaml.Node{
		Kind: yaml.DocumentNode,
		Content: []*yaml.Node{
			{Kind: yaml.MappingNode, Tag: "!!map"},
		},
	}
}

// documentContent unwraps a document node to its mapping root.
func documentContent(root *yaml.Node) *yaml.Node {
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		return root.Content[0]
	}
	return root
}

// findNode walks mapping nodes along the segment path.
func findNode(node *yaml.Node, segments []string) *yaml.Node {
	if len(segments) == 0 {
		return node
	}
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}

	// Mapping content alternates key, value.
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == segments[0] {
			return findNode(node.Content[i+1], segments[1:])
		}
	}
	return nil
}

// setNode writes value at the segment path, creating mappings as needed.
func setNode(node *yaml.Node, segments []string, value string) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("cannot descend into %s node", nodeKind(node))
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != segments[0] {
			continue
		}
		child := node.Content[i+1]
		if len(segments) == 1 {
			if child.Kind != yaml.ScalarNode && child.Kind != 0 {
				return fmt.Errorf("key holds a %s, not a scalar", nodeKind(child))
			}
			child.Kind = yaml.ScalarNode
			child.Tag = scalarTag(value)
			child.Value = value
			return nil
		}
		if child.Kind == yaml.ScalarNode && child.Value == "" {
			// A null placeholder; turn it into a mapping.
			child.Kind = yaml.MappingNode
			child.Tag = "!!map"
			child.Value = ""
		}
		return setNode(child, segments[1:], value)
	}

	// Key absent: append it.
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: segments[0]}
	if len(segments) == 1 {
		node.Content = append(node.Content, keyNode,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: scalarTag(value), Value: value})
		return nil
	}

	child := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	node.Content = append(node.Content, keyNode, child)
	return setNode(child, segments[1:], value)
}

// scalarTag picks the YAML tag for a scalar so integers round-trip unquoted.
func scalarTag(value string) string {
	if _, err := strconv.Atoi(value); err == nil {
		return "!!int"
	}
	return "!!str"
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
