package version

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{"no path", "", Version},
		{"missing file", filepath.Join(dir, "absent"), Version},
		{"file contents", write("VERSION", "1.4.2\n"), "1.4.2"},
		{"surrounding space", write("SPACED", "  2.0.0-rc.1 \n"), "2.0.0-rc.1"},
		{"empty file", write("EMPTY", "\n"), Version},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.path)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestResolve_Unreadable(t *testing.T) {
	// a directory cannot be read as a file
	got, err := Resolve(t.TempDir())
	if err == nil {
		t.Error("Expected error for unreadable version file")
	}
	if got != Version {
		t.Errorf("Expected fallback %q, got %q", Version, got)
	}
}
