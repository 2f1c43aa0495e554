// Package specsafe implements the safe-ingestion checks the Spec Store
// applies to an uploaded or fetched OpenAPI document before it is
// partitioned (SPEC §4.3): a size cap, a safe YAML/JSON decode that never
// evaluates a tag, a bounded `$ref` cycle check, and a dangerous-content
// scan.
package specsafe

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ventiapi/orchestrator/infrastructure/security"
)

// MaxSpecBytes is the compressed-payload size cap (§4.3).
const MaxSpecBytes = 10 << 20

// MaxRefDepth bounds `$ref` expansion to catch cycles (§4.3).
const MaxRefDepth = 16

// allowedTags is the set of YAML tags a spec document may use. yaml.v3
// never executes a tag regardless of what it names, but a document
// carrying a non-standard tag (`!!python/object`, `!!python/name`, and
// similar Ruby/Python/Perl deserialization gadgets ported from other
// ecosystems' loaders) signals it was built for an unsafe loader and is
// rejected outright rather than silently accepted.
var allowedTags = map[string]bool{
	"!!map":       true,
	"!!seq":       true,
	"!!str":       true,
	"!!int":       true,
	"!!float":     true,
	"!!bool":      true,
	"!!null":      true,
	"!!timestamp": true,
	"!":           true, // untagged scalar/collection
}

// dangerousSubstrings flags content that has no business in an OpenAPI
// document: embedded script tags, prototype-pollution hooks, and the
// non-standard deserialization tags allowedTags already rejects at the
// node level, checked again here as a plain substring scan over the raw
// bytes so a tag smuggled inside a quoted string is still caught.
var dangerousSubstrings = []string{
	"<script",
	"__proto__",
	"constructor.prototype",
	"!!python/",
	"!!ruby/",
	"!!perl/",
}

// Document is a decoded OpenAPI document.
type Document map[string]interface{}

// PathOrderKey is a vendor-extension field (the "x-" prefix OpenAPI
// reserves for exactly this) Ingest attaches to every decoded Document: the
// keys of its "paths" object in their original on-the-wire order. Go's
// map[string]interface{} decode target has no memory of key order, so
// without this the Partitioner (domain/specdoc, §4.4: "Group by path,
// preserving original insertion order") would have nothing but an
// alphabetical fallback to group by. domain/specdoc strips this key back
// out of every mini-spec it builds, so it never reaches a worker or a
// persisted chunk file.
const PathOrderKey = "x-scan-path-order"

// Ingest decodes content as JSON or YAML, rejecting it per §4.3's content
// sanity rules. origin is carried through only for error messages.
func Ingest(content []byte, origin string) (Document, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("spec content is empty")
	}
	if len(content) > MaxSpecBytes {
		return nil, fmt.Errorf("spec exceeds %d byte limit", MaxSpecBytes)
	}

	if err := scanDangerous(content); err != nil {
		return nil, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(content, &node); err != nil {
		return nil, fmt.Errorf("spec (%s) is not valid YAML/JSON: %w", origin, err)
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("spec (%s) is empty", origin)
	}
	if err := walkTags(&node, 0); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("spec (%s) does not decode to an object: %w", origin, err)
	}

	if _, ok := doc["paths"]; !ok {
		return nil, fmt.Errorf("spec (%s) has no paths section", origin)
	}

	normalized := normalizeMap(doc)
	if err := checkRefCycles(normalized, normalized, 0, nil); err != nil {
		return nil, err
	}

	if order := pathOrderFromNode(&node); order != nil {
		doc[PathOrderKey] = order
	}

	return doc, nil
}

// pathOrderFromNode walks the raw yaml.Node tree (which, unlike the
// map[string]interface{} decode target, preserves document order) looking
// for the root-level "paths" mapping and returns its keys in the order they
// appear on the wire. Returns nil if "paths" isn't a mapping node.
func pathOrderFromNode(root *yaml.Node) []interface{} {
	if len(root.Content) == 0 {
		return nil
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i]
		if key.Value != "paths" {
			continue
		}
		val := mapping.Content[i+1]
		if val.Kind != yaml.MappingNode {
			return nil
		}
		order := make([]interface{}, 0, len(val.Content)/2)
		for j := 0; j+1 < len(val.Content); j += 2 {
			order = append(order, val.Content[j].Value)
		}
		return order
	}
	return nil
}

func scanDangerous(content []byte) error {
	lower := strings.ToLower(string(content))
	for _, s := range dangerousSubstrings {
		if strings.Contains(lower, strings.ToLower(s)) {
			return fmt.Errorf("spec contains a disallowed pattern: %s", security.SanitizeString(s))
		}
	}
	return nil
}

// walkTags rejects any YAML node whose tag is not in allowedTags. Scalar
// nodes use yaml.v3's resolved tags (!!str, !!int, ...); mapping/sequence
// nodes use !!map/!!seq. A custom tag (anything else) fails closed.
func walkTags(n *yaml.Node, depth int) error {
	if depth > 64 {
		return fmt.Errorf("spec document nesting too deep")
	}
	if n.Tag != "" && !allowedTags[n.Tag] {
		return fmt.Errorf("spec uses a disallowed YAML tag: %s", n.Tag)
	}
	for _, child := range n.Content {
		if err := walkTags(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func normalizeMap(doc Document) map[string]interface{} {
	b, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return doc
	}
	return out
}

// checkRefCycles walks the decoded document looking for `$ref` chains
// deeper than MaxRefDepth. A local `$ref` ("#/a/b") is followed by walking
// its slash-separated segments from root; other references are not
// followed. depth counts followed references, not plain nesting. visited
// tracks `$ref` target strings already seen on the current chain; a
// repeated target at any depth is a cycle regardless of how deep it is, so
// it is reported immediately.
func checkRefCycles(root map[string]interface{}, node interface{}, depth int, visited map[string]bool) error {
	if depth > MaxRefDepth {
		return fmt.Errorf("spec $ref nesting exceeds depth bound of %d", MaxRefDepth)
	}
	switch v := node.(type) {
	case map[string]interface{}:
		if ref, ok := v["$ref"].(string); ok {
			if visited == nil {
				visited = make(map[string]bool)
			}
			if visited[ref] {
				return fmt.Errorf("spec $ref cycle detected at %q", ref)
			}
			next := make(map[string]bool, len(visited)+1)
			for k := range visited {
				next[k] = true
			}
			next[ref] = true
			visited = next
			if strings.HasPrefix(ref, "#/") {
				var target interface{} = root
				for _, seg := range strings.Split(ref[2:], "/") {
					m, _ := target.(map[string]interface{})
					target = m[seg]
				}
				if err := checkRefCycles(root, target, depth+1, visited); err != nil {
					return err
				}
			}
		}
		for _, child := range v {
			if err := checkRefCycles(root, child, depth, visited); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, child := range v {
			if err := checkRefCycles(root, child, depth, visited); err != nil {
				return err
			}
		}
	}
	return nil
}
