package specsafe

import (
	"strings"
	"testing"
)

const minimalSpec = `{"openapi":"3.0.0","info":{"title":"t"},"paths":{"/a":{"get":{}}}}`

func TestIngestAcceptsMinimalSpec(t *testing.T) {
	doc, err := Ingest([]byte(minimalSpec), "uploaded-bytes")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if _, ok := doc["paths"]; !ok {
		t.Fatal("expected decoded doc to retain paths")
	}
}

func TestIngestAttachesPathOrderInDocumentOrder(t *testing.T) {
	const spec = `{"openapi":"3.0.0","paths":{"/zebra":{"get":{}},"/apple":{"get":{}},"/mango":{"get":{}}}}`
	doc, err := Ingest([]byte(spec), "uploaded-bytes")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	raw, ok := doc[PathOrderKey].([]interface{})
	if !ok {
		t.Fatalf("expected %s to be a []interface{}, got %T", PathOrderKey, doc[PathOrderKey])
	}
	want := []string{"/zebra", "/apple", "/mango"}
	if len(raw) != len(want) {
		t.Fatalf("expected %d ordered paths, got %d", len(want), len(raw))
	}
	for i, w := range want {
		if raw[i] != w {
			t.Fatalf("path order[%d] = %v, want %q", i, raw[i], w)
		}
	}
}

func TestIngestRejectsEmpty(t *testing.T) {
	if _, err := Ingest(nil, "uploaded-bytes"); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestIngestRejectsOversized(t *testing.T) {
	big := strings.Repeat("a", MaxSpecBytes+1)
	if _, err := Ingest([]byte(big), "uploaded-bytes"); err == nil {
		t.Fatal("expected error for oversized content")
	}
}

func TestIngestRejectsMissingPaths(t *testing.T) {
	spec := `{"openapi":"3.0.0","info":{"title":"t"}}`
	if _, err := Ingest([]byte(spec), "uploaded-bytes"); err == nil {
		t.Fatal("expected error for missing paths section")
	}
}

func TestIngestRejectsDangerousTag(t *testing.T) {
	spec := "openapi: 3.0.0\npaths:\n  /a:\n    get: !!python/object:os.system {}\n"
	if _, err := Ingest([]byte(spec), "uploaded-bytes"); err == nil {
		t.Fatal("expected error for disallowed YAML tag")
	}
}

func TestIngestRejectsScriptTag(t *testing.T) {
	spec := `{"openapi":"3.0.0","info":{"title":"<script>alert(1)</script>"},"paths":{}}`
	if _, err := Ingest([]byte(spec), "uploaded-bytes"); err == nil {
		t.Fatal("expected error for embedded script tag")
	}
}

func TestIngestRejectsProtoPollution(t *testing.T) {
	spec := `{"openapi":"3.0.0","info":{},"paths":{},"__proto__":{"polluted":true}}`
	if _, err := Ingest([]byte(spec), "uploaded-bytes"); err == nil {
		t.Fatal("expected error for __proto__ pollution hook")
	}
}

func TestIngestRejectsRefCycle(t *testing.T) {
	spec := `{
		"openapi": "3.0.0",
		"paths": {"/a": {"$ref": "#/components/schemas/A"}},
		"components": {"schemas": {"A": {"$ref": "#/components/schemas/A"}}}
	}`
	if _, err := Ingest([]byte(spec), "uploaded-bytes"); err == nil {
		t.Fatal("expected error for $ref cycle")
	}
}

func TestIngestAllowsDeepButAcyclicRefs(t *testing.T) {
	spec := `{
		"openapi": "3.0.0",
		"paths": {"/a": {"$ref": "#/components/schemas/A"}},
		"components": {"schemas": {
			"A": {"$ref": "#/components/schemas/B"},
			"B": {"type": "object"}
		}}
	}`
	if _, err := Ingest([]byte(spec), "uploaded-bytes"); err != nil {
		t.Fatalf("expected acyclic refs to be accepted, got %v", err)
	}
}
