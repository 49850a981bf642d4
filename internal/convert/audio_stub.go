package convert

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
)

// StubTranscriber implements interfaces.AudioTranscriber without a live
// speech-to-text backend. A real deployment wires this to a provider
// (Provider/Model are carried through so that swap is a constructor change,
// not an interface change); until one is configured, audio submissions fail
// cleanly through the normal MAIN retry/failure path rather than panicking.
type StubTranscriber struct {
	logger   arbor.ILogger
	provider string
}

var _ interfaces.AudioTranscriber = (*StubTranscriber)(nil)

func NewStubTranscriber(logger arbor.ILogger) *StubTranscriber {
	return &StubTranscriber{logger: logger, provider: "none"}
}

func (t *StubTranscriber) Transcribe(ctx context.Context, path string, opts interfaces.ConvertOptions) (interfaces.TranscribeResult, error) {
	return interfaces.TranscribeResult{}, fmt.Errorf("no audio transcription backend configured for %s", path)
}

func (t *StubTranscriber) FormatAsMarkdown(result interfaces.TranscribeResult, includeTimestamps bool) string {
	if len(result.Segments) == 0 {
		return ""
	}
	out := ""
	for _, seg := range result.Segments {
		if includeTimestamps {
			out += fmt.Sprintf("**[%s]** %s\n\n", formatTimestamp(seg.Start), seg.Text)
		} else {
			out += seg.Text + "\n\n"
		}
	}
	return out
}

func formatTimestamp(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
