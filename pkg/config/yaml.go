// Package config provides bounded YAML parsing for operator-supplied
// configuration. Limits on size, depth and node count keep a malformed or
// hostile config file from exhausting the process.
package config

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Limits bounds the YAML documents the parser accepts.
type Limits struct {
	MaxFileSize  int64 // maximum document size in bytes
	MaxDepth     int   // maximum nesting depth
	MaxNodes     int   // maximum number of nodes
	MaxKeyLength int   // maximum mapping key length in bytes
	MaxValueSize int64 // maximum scalar value size in bytes
}

// DefaultLimits returns the limits applied to config files.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:  10 * 1024 * 1024,
		MaxDepth:     20,
		MaxNodes:     10000,
		MaxKeyLength: 1024,
		MaxValueSize: 1024 * 1024,
	}
}

// YAMLParser unmarshals YAML documents after validating them against
// resource limits.
type YAMLParser struct {
	limits Limits
}

// NewYAMLParser creates a parser enforcing the given limits.
func NewYAMLParser(limits Limits) *YAMLParser {
	return &YAMLParser{limits: limits}
}

// Unmarshal validates the document's structure and unmarshals it into v.
func (p *YAMLParser) Unmarshal(data []byte, v any) error {
	if int64(len(data)) > p.limits.MaxFileSize {
		return fmt.Errorf("YAML document is %d bytes, maximum is %d", len(data), p.limits.MaxFileSize)
	}

	var root yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		if err == io.EOF {
			// Empty documents unmarshal to the zero value.
			return nil
		}
		return fmt.Errorf("YAML parse error: %w", err)
	}

	w := &nodeWalker{limits: p.limits}
	if err := w.check(&root, 0); err != nil {
		return err
	}

	return yaml.Unmarshal(data, v)
}

// UnmarshalFromReader reads at most MaxFileSize bytes and unmarshals them.
func (p *YAMLParser) UnmarshalFromReader(r io.Reader, v any) error {
	limited := io.LimitedReader{R: r, N: p.limits.MaxFileSize + 1}
	data, err := io.ReadAll(&limited)
	if err != nil {
		return fmt.Errorf("failed to read YAML: %w", err)
	}
	if int64(len(data)) > p.limits.MaxFileSize {
		return fmt.Errorf("YAML input exceeds maximum size %d bytes", p.limits.MaxFileSize)
	}
	return p.Unmarshal(data, v)
}

// nodeWalker checks a parsed document against the limits.
type nodeWalker struct {
	limits Limits
	nodes  int
}

func (w *nodeWalker) check(node *yaml.Node, depth int) error {
	if depth > w.limits.MaxDepth {
		return fmt.Errorf("YAML nesting depth %d exceeds maximum %d", depth, w.limits.MaxDepth)
	}
	w.nodes++
	if w.nodes > w.limits.MaxNodes {
		return fmt.Errorf("YAML node count exceeds maximum %d", w.limits.MaxNodes)
	}

	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			if err := w.check(child, depth); err != nil {
				return err
			}
		}

	case yaml.MappingNode:
		if len(node.Content)%2 != 0 {
			return fmt.Errorf("invalid YAML mapping: odd number of elements")
		}
		for i := 0; i < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if len(key.Value) > w.limits.MaxKeyLength {
				return fmt.Errorf("YAML key length %d exceeds maximum %d", len(key.Value), w.limits.MaxKeyLength)
			}
			if err := w.check(key, depth+1); err != nil {
				return err
			}
			if err := w.check(value, depth+1); err != nil {
				return err
			}
		}

	case yaml.SequenceNode:
		for _, child := range node.Content {
			if err := w.check(child, depth+1); err != nil {
				return err
			}
		}

	case yaml.ScalarNode:
		if int64(len(node.Value)) > w.limits.MaxValueSize {
			return fmt.Errorf("YAML value size %d bytes exceeds maximum %d bytes", len(node.Value), w.limits.MaxValueSize)
		}

	case yaml.AliasNode:
		if node.Alias != nil {
			if err := w.check(node.Alias, depth+1); err != nil {
				return err
			}
		}
	}

	return nil
}
