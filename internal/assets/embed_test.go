package assets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestPrompts_DefinesAllTemplates(t *testing.T) {
	var doc map[string]string
	if err := yaml.Unmarshal(Prompts(), &doc); err != nil {
		t.Fatalf("embedded prompts.yaml does not parse: %v", err)
	}
	for _, name := range []string{"system_prompt", "tool_response", "simple_user"} {
		if strings.TrimSpace(doc[name]) == "" {
			t.Errorf("embedded prompts.yaml is missing %q", name)
		}
	}
}

func TestPrompts_ReturnsCopy(t *testing.T) {
	a := Prompts()
	a[0] = 'X'
	if Prompts()[0] == 'X' {
		t.Error("Prompts() should return a copy of the embedded bytes")
	}
}

func TestSystem_NotEmpty(t *testing.T) {
	if strings.TrimSpace(System()) == "" {
		t.Error("embedded system.md is empty")
	}
}

func TestWriteDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "prompts")

	written, err := WriteDefaults(dir, false)
	if err != nil {
		t.Fatalf("WriteDefaults() error = %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("WriteDefaults() wrote %d files, want 2", len(written))
	}

	custom := filepath.Join(dir, "system.md")
	if err := os.WriteFile(custom, []byte("custom"), 0o644); err != nil {
		t.Fatal(err)
	}

	written, err = WriteDefaults(dir, false)
	if err != nil {
		t.Fatalf("second WriteDefaults() error = %v", err)
	}
	if len(written) != 0 {
		t.Errorf("WriteDefaults() without overwrite wrote %v, want nothing", written)
	}
	data, _ := os.ReadFile(custom)
	if string(data) != "custom" {
		t.Errorf("system.md = %q, want it preserved", data)
	}

	if _, err := WriteDefaults(dir, true); err != nil {
		t.Fatalf("WriteDefaults(overwrite) error = %v", err)
	}
	data, _ = os.ReadFile(custom)
	if string(data) != System() {
		t.Error("WriteDefaults(overwrite) should restore the embedded system text")
	}
}
