package convert

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
)

func TestStubTranscriberAlwaysFails(t *testing.T) {
	tr := NewStubTranscriber(arbor.NewLogger())
	_, err := tr.Transcribe(context.Background(), "audio.mp3", interfaces.ConvertOptions{})
	if err == nil {
		t.Error("expected the stub transcriber to fail cleanly without a configured backend")
	}
}

func TestFormatAsMarkdownWithoutTimestamps(t *testing.T) {
	tr := NewStubTranscriber(arbor.NewLogger())
	result := interfaces.TranscribeResult{
		Segments: []interfaces.TranscriptSegment{
			{Start: 0, Text: "hello"},
			{Start: 5 * time.Second, Text: "world"},
		},
	}
	out := tr.FormatAsMarkdown(result, false)
	if out != "hello\n\nworld\n\n" {
		t.Errorf("unexpected markdown: %q", out)
	}
}

func TestFormatAsMarkdownWithTimestamps(t *testing.T) {
	tr := NewStubTranscriber(arbor.NewLogger())
	result := interfaces.TranscribeResult{
		Segments: []interfaces.TranscriptSegment{
			{Start: time.Hour + 2*time.Minute + 3*time.Second, Text: "hello"},
		},
	}
	out := tr.FormatAsMarkdown(result, true)
	if out != "**[01:02:03]** hello\n\n" {
		t.Errorf("unexpected timestamped markdown: %q", out)
	}
}

func TestFormatAsMarkdownEmptySegments(t *testing.T) {
	tr := NewStubTranscriber(arbor.NewLogger())
	if out := tr.FormatAsMarkdown(interfaces.TranscribeResult{}, false); out != "" {
		t.Errorf("expected empty string for no segments, got %q", out)
	}
}
