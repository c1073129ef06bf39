package styles

import (
	"strings"
	"testing"
)

func TestMarkdownRenderer(t *testing.T) {
	r, err := GetMarkdownRenderer(80)
	if err != nil {
		t.Fatalf("GetMarkdownRenderer: %v", err)
	}
	out, err := r.Render("# Report\n\n| Library | Status |\n|---|---|\n| libgame.so | patched |\n")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{"Report", "libgame.so", "patched"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered report missing %q", want)
		}
	}
}
