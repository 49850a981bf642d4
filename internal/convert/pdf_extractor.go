// Package convert holds the document-processing collaborators: PDF page
// extraction (pdfcpu), document-to-Markdown conversion (goldmark /
// html-to-markdown) and the audio transcription stub.
package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
)

// PDFExtractor implements interfaces.PageExtractor using pdfcpu - the same
// Go-native PDF library used for content extraction elsewhere in this
// codebase's lineage.
type PDFExtractor struct {
	logger    arbor.ILogger
	scratchDir string
}

var _ interfaces.PageExtractor = (*PDFExtractor)(nil)

func NewPDFExtractor(logger arbor.ILogger, scratchDir string) *PDFExtractor {
	os.MkdirAll(scratchDir, 0o755)
	return &PDFExtractor{logger: logger, scratchDir: scratchDir}
}

// CountPages reads the document's page count without extracting content.
func (e *PDFExtractor) CountPages(ctx context.Context, pdfPath string) (int, error) {
	pdfCtx, err := api.ReadContextFile(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF context for %s: %w", pdfPath, err)
	}
	return pdfCtx.PageCount, nil
}

// ShouldSplit implements the §4.F classification: documents with at least
// minPages pages are split into per-page units rather than converted whole.
func (e *PDFExtractor) ShouldSplit(ctx context.Context, pdfPath string, minPages int) (bool, error) {
	n, err := e.CountPages(ctx, pdfPath)
	if err != nil {
		return false, err
	}
	return n >= minPages, nil
}

// ExtractOne trims pdfPath down to a single-page PDF for pageNumber
// (1-indexed) and writes it under the extractor's scratch directory.
func (e *PDFExtractor) ExtractOne(ctx context.Context, pdfPath string, pageNumber int, mainID string) (interfaces.ExtractedPage, error) {
	outDir := filepath.Join(e.scratchDir, mainID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return interfaces.ExtractedPage{}, fmt.Errorf("failed to prepare page scratch dir: %w", err)
	}
	outPath := filepath.Join(outDir, fmt.Sprintf("page_%04d.pdf", pageNumber))

	conf := model.NewDefaultConfiguration()
	selected := []string{fmt.Sprintf("%d", pageNumber)}
	if err := api.TrimFile([]string{pdfPath}, outPath, selected, conf); err != nil {
		return interfaces.ExtractedPage{}, fmt.Errorf("failed to extract page %d: %w", pageNumber, err)
	}

	return interfaces.ExtractedPage{
		PageNumber: pageNumber,
		LocalPath:  outPath,
		BlobKey:    fmt.Sprintf("%s/page_%04d.pdf", mainID, pageNumber),
	}, nil
}

// Split decomposes pdfPath into one single-page artifact per page (§4.G).
func (e *PDFExtractor) Split(ctx context.Context, pdfPath, mainID string) ([]interfaces.ExtractedPage, error) {
	total, err := e.CountPages(ctx, pdfPath)
	if err != nil {
		return nil, err
	}

	pages := make([]interfaces.ExtractedPage, 0, total)
	for n := 1; n <= total; n++ {
		page, err := e.ExtractOne(ctx, pdfPath, n, mainID)
		if err != nil {
			return nil, fmt.Errorf("split failed at page %d of %d: %w", n, total, err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}
