// Package specdoc implements the pure partitioning functions that split a
// validated OpenAPI document's path set into per-chunk mini-specs
// (SPEC §4.4). It has no teacher analog; it is new domain logic, written in
// the teacher's plain-function domain-service style and kept free of I/O so
// it stays trivially table-testable.
package specdoc

import (
	"sort"

	"github.com/ventiapi/orchestrator/domain/chunk"
)

// Document is a decoded OpenAPI document. Only the fields the partitioner
// cares about are modelled explicitly; everything else under "paths" and
// the document root is carried through untouched as map[string]any so
// unknown OpenAPI fields (info, servers, components, ...) survive cloning.
type Document map[string]interface{}

// pathOrderKey mirrors infrastructure/specsafe.PathOrderKey. Duplicated
// rather than imported: specdoc is pure domain logic with no infrastructure
// dependency, and this is a one-line vendor-extension field name, not a
// behavioral contract worth an import for.
const pathOrderKey = "x-scan-path-order"

// Operation is one (path, method) pair extracted from a document, along
// with the raw operation object so it can be copied into a mini-spec
// untouched.
type Operation struct {
	Path   string
	Method string
	Object interface{}
}

var httpMethods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// ExtractOperations walks doc["paths"] and returns the ordered list of
// (path, method) operations, preserving the original insertion order of
// paths. A path with no recognized operation objects is still returned
// (with Method == "") so it is counted as zero work (SPEC §4.4 edge case).
func ExtractOperations(doc Document) []Operation {
	pathsRaw, ok := doc["paths"]
	if !ok {
		return nil
	}
	paths, ok := pathsRaw.(map[string]interface{})
	if !ok {
		return nil
	}

	hint, _ := hintOrder(doc[pathOrderKey])
	keys := orderedKeys(paths, hint)

	var ops []Operation
	for _, p := range keys {
		item, ok := paths[p].(map[string]interface{})
		if !ok {
			ops = append(ops, Operation{Path: p})
			continue
		}
		found := false
		for _, m := range httpMethods {
			if obj, ok := item[m]; ok {
				ops = append(ops, Operation{Path: p, Method: m, Object: obj})
				found = true
			}
		}
		if !found {
			ops = append(ops, Operation{Path: p})
		}
	}
	return ops
}

// orderedKeys returns m's keys in their original document order (SPEC §4.4:
// "Group by path, preserving original insertion order"), using hint — the
// top-level doc's pathOrderKey value, decoded by the caller — when one is
// available. Go's map[string]interface{} has no memory of decode order on
// its own, so absent a hint this falls back to alphabetical order:
// deterministic, but not insertion-order-preserving. A hint can name a key
// no longer in m (dropped by an earlier step) or omit a key present in m (a
// document built directly without going through specsafe.Ingest, e.g. in a
// test); both are handled by filtering the hint to m's keys and appending
// anything left over in sorted order.
func orderedKeys(m map[string]interface{}, hint []string) []string {
	if len(hint) > 0 {
		seen := make(map[string]bool, len(hint))
		keys := make([]string, 0, len(m))
		for _, k := range hint {
			if _, exists := m[k]; exists && !seen[k] {
				keys = append(keys, k)
				seen[k] = true
			}
		}
		var rest []string
		for k := range m {
			if !seen[k] {
				rest = append(rest, k)
			}
		}
		sort.Strings(rest)
		return append(keys, rest...)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// hintOrder normalizes the decoded x-scan-path-order value (a
// []interface{} of strings, since it rides through encoding/json and
// gopkg.in/yaml.v3 as untyped interface{}) into a []string.
func hintOrder(v interface{}) ([]string, bool) {
	raw, ok := v.([]interface{})
	if !ok || len(raw) == 0 {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// Group is one partition: a path and its retained operation objects.
type Group struct {
	Path       string
	Operations map[string]interface{}
}

// GroupByPath groups ops by path, preserving the order each path first
// appears in ops (SPEC §4.4: "Group by path, preserving original insertion
// order").
func GroupByPath(ops []Operation) []Group {
	index := make(map[string]int)
	var groups []Group

	for _, op := range ops {
		i, ok := index[op.Path]
		if !ok {
			i = len(groups)
			index[op.Path] = i
			groups = append(groups, Group{Path: op.Path, Operations: map[string]interface{}{}})
		}
		if op.Method != "" {
			groups[i].Operations[op.Method] = op.Object
		}
	}
	return groups
}

// Plan is the result of partitioning: the mini-specs plus bookkeeping used
// to build Chunk domain objects.
type Plan struct {
	MiniSpecs      []Document
	ChunkEndpoints [][]chunk.Endpoint
	ParallelMode   bool
}

// Partition splits doc's path set into mini-specs of at most chunkSize
// paths each, clamped to maxParallelism chunks (SPEC §4.4). If the spec has
// one or zero paths (paths without operations count too), a single chunk is
// emitted and ParallelMode is false (SPEC §4.4 edge case).
func Partition(doc Document, chunkSize, maxParallelism int) Plan {
	if chunkSize <= 0 {
		chunkSize = 4
	}

	ops := ExtractOperations(doc)
	groups := GroupByPath(ops)

	if len(groups) <= 1 {
		return Plan{
			MiniSpecs:      []Document{cloneWithGroups(doc, groups)},
			ChunkEndpoints: [][]chunk.Endpoint{endpointsOf(groups)},
			ParallelMode:   false,
		}
	}

	n := (len(groups) + chunkSize - 1) / chunkSize
	if maxParallelism > 0 && n > maxParallelism {
		n = maxParallelism
		// Recompute chunkSize so every group is still covered when n is
		// clamped by policy: ceil(len(groups)/n).
		chunkSize = (len(groups) + n - 1) / n
	}

	var miniSpecs []Document
	var chunkEndpoints [][]chunk.Endpoint
	for start := 0; start < len(groups); start += chunkSize {
		end := start + chunkSize
		if end > len(groups) {
			end = len(groups)
		}
		slice := groups[start:end]
		miniSpecs = append(miniSpecs, cloneWithGroups(doc, slice))
		chunkEndpoints = append(chunkEndpoints, endpointsOf(slice))
	}

	return Plan{
		MiniSpecs:      miniSpecs,
		ChunkEndpoints: chunkEndpoints,
		ParallelMode:   len(miniSpecs) > 1,
	}
}

// cloneWithGroups builds a mini-spec: a shallow clone of doc with "paths"
// replaced by the given groups' subset, retaining every other top-level
// key (info, servers, components, ...) unchanged (SPEC §4.4). pathOrderKey
// is bookkeeping for this package only and is dropped rather than carried
// into a mini-spec a worker will actually consume.
func cloneWithGroups(doc Document, groups []Group) Document {
	mini := make(Document, len(doc))
	for k, v := range doc {
		if k == "paths" || k == pathOrderKey {
			continue
		}
		mini[k] = v
	}
	paths := make(map[string]interface{}, len(groups))
	for _, g := range groups {
		paths[g.Path] = toItemObject(g.Operations)
	}
	mini["paths"] = paths
	return mini
}

func toItemObject(ops map[string]interface{}) map[string]interface{} {
	item := make(map[string]interface{}, len(ops))
	for m, obj := range ops {
		item[m] = obj
	}
	return item
}

func endpointsOf(groups []Group) []chunk.Endpoint {
	var eps []chunk.Endpoint
	for _, g := range groups {
		if len(g.Operations) == 0 {
			eps = append(eps, chunk.Endpoint{Path: g.Path})
			continue
		}
		methods := make([]string, 0, len(g.Operations))
		for m := range g.Operations {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		for _, m := range methods {
			eps = append(eps, chunk.Endpoint{Method: m, Path: g.Path})
		}
	}
	return eps
}
