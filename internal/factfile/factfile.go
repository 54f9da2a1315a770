// Package factfile reads fact sets cached by an agent or written by hand.
//
// Both JSON and YAML are accepted. A document is either a plain fact map or
// a wrapped fact set with "name" and "values" keys, which is how the agent
// caches facts on disk (YAML files carry a !ruby/object tag that is ignored).
package factfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FactSet is one node's facts as read from disk.
type FactSet struct {
	// Certname is empty for plain fact maps.
	Certname string
	Values   map[string]any
}

// Load reads path, choosing the decoder from its extension. Unknown
// extensions are tried as YAML, which also accepts JSON.
func Load(path string) (*FactSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fs, err := Parse(data, strings.ToLower(filepath.Ext(path)) == ".json")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if fs.Certname == "" {
		fs.Certname = certnameFromPath(path)
	}
	return fs, nil
}

// Parse decodes a fact document.
func Parse(data []byte, isJSON bool) (*FactSet, error) {
	var (
		doc    map[string]any
		tagged bool
	)
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse JSON facts: %w", err)
		}
	} else {
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("parse YAML facts: %w", err)
		}
		tagged = rootTag(&node) == factsTag
		stripRubyTags(&node)
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode YAML facts: %w", err)
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("no facts found")
	}

	// A bare fact map may hold a structured fact called "values"; only the
	// cached wrapper carries a string name or the Puppet::Node::Facts tag.
	fs := &FactSet{Values: doc}
	name, named := doc["name"].(string)
	if values, ok := doc["values"].(map[string]any); ok && (named || tagged) {
		fs = &FactSet{Certname: name, Values: values}
	}
	fs.Values = normalize(fs.Values).(map[string]any)
	return fs, nil
}

const factsTag = "!ruby/object:Puppet::Node::Facts"

func rootTag(n *yaml.Node) string {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		return n.Content[0].Tag
	}
	return n.Tag
}

// stripRubyTags drops Ruby object tags so the document decodes as plain data.
func stripRubyTags(n *yaml.Node) {
	if strings.HasPrefix(n.Tag, "!ruby/") {
		n.Tag = ""
	}
	for _, c := range n.Content {
		stripRubyTags(c)
	}
}

// normalize turns map[any]any produced by YAML into map[string]any so the
// result can be encoded as JSON.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = normalize(e)
		}
		return m
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	}
	return v
}

// certnameFromPath uses the file name, as cached fact files are named
// <certname>.yaml.
func certnameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Render returns values as sorted YAML, suitable for line diffs.
func Render(values map[string]any) (string, error) {
	// Round-trip through JSON so stored and local facts render alike.
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	var plain map[string]any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return "", err
	}
	out, err := yaml.Marshal(plain)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
