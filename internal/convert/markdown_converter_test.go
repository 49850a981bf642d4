package convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestConvertHTML(t *testing.T) {
	c := NewMarkdownConverter(arbor.NewLogger(), t.TempDir())
	path := writeTempFile(t, "doc.html", "<h1>Title</h1><p>body text</p>")

	result, err := c.Convert(context.Background(), path, interfaces.ConvertOptions{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if result.Metadata.Format != "html" {
		t.Errorf("expected format html, got %s", result.Metadata.Format)
	}
	if result.Markdown == "" {
		t.Error("expected non-empty markdown output")
	}
}

func TestConvertMarkdownPassesThroughValidInput(t *testing.T) {
	c := NewMarkdownConverter(arbor.NewLogger(), t.TempDir())
	path := writeTempFile(t, "doc.md", "# Title\n\nSome body text.\n")

	result, err := c.Convert(context.Background(), path, interfaces.ConvertOptions{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if result.Metadata.Format != "markdown" {
		t.Errorf("expected format markdown, got %s", result.Metadata.Format)
	}
	if result.Markdown != "# Title\n\nSome body text.\n" {
		t.Errorf("expected markdown content passed through unchanged, got %q", result.Markdown)
	}
}

func TestConvertPlainText(t *testing.T) {
	c := NewMarkdownConverter(arbor.NewLogger(), t.TempDir())
	path := writeTempFile(t, "doc.txt", "plain &amp; simple")

	result, err := c.Convert(context.Background(), path, interfaces.ConvertOptions{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if result.Metadata.Format != "text" {
		t.Errorf("expected format text, got %s", result.Metadata.Format)
	}
	if result.Markdown != "plain & simple" {
		t.Errorf("expected HTML entities unescaped, got %q", result.Markdown)
	}
}

func TestConvertPlainTextRejectsInvalidUTF8(t *testing.T) {
	c := NewMarkdownConverter(arbor.NewLogger(), t.TempDir())
	path := writeTempFile(t, "doc.bin", string([]byte{0xff, 0xfe, 0x00}))

	if _, err := c.Convert(context.Background(), path, interfaces.ConvertOptions{}); err == nil {
		t.Error("expected non-UTF8 content to be rejected")
	}
}

func TestCollapseBlankLines(t *testing.T) {
	in := "a\n\n\n\n\nb"
	out := collapseBlankLines(in)
	if out != "a\n\nb" {
		t.Errorf("expected blank run collapsed to one blank line, got %q", out)
	}
}

func TestPresetDefaultsToBalanced(t *testing.T) {
	if got := preset(interfaces.ConvertOptions{}); got != "balanced" {
		t.Errorf("expected default preset balanced, got %s", got)
	}
	if got := preset(interfaces.ConvertOptions{DoclingPreset: "quality"}); got != "quality" {
		t.Errorf("expected explicit preset honored, got %s", got)
	}
}
