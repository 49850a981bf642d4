package orchestrator

import (
	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
)

// MainPayload is the MAIN task's enqueue payload (§4.F inputs). Attempt
// tracks retries against the same cap the backoff schedule applies to.
type MainPayload struct {
	MainID      string                    `json:"main_id"`
	UserID      string                    `json:"user_id"`
	SourceType  models.SourceType         `json:"source_type"`
	Source      string                    `json:"source"`
	ScratchPath string                    `json:"scratch_path,omitempty"` // local path when already buffered (file/audio)
	Filename    string                    `json:"filename,omitempty"`
	MimeType    string                    `json:"mime_type,omitempty"`
	Options     interfaces.ConvertOptions `json:"options"`
	Attempt     int                       `json:"attempt,omitempty"`
}

// SplitPayload is the SPLIT task's enqueue payload (§4.G inputs).
type SplitPayload struct {
	SplitID  string                    `json:"split_id"`
	ParentID string                    `json:"parent_id"`
	FilePath string                    `json:"file_path"`
	Options  interfaces.ConvertOptions `json:"options"`
	Attempt  int                       `json:"attempt,omitempty"`
}

// PagePayload is the PAGE task's enqueue payload (§4.H inputs).
type PagePayload struct {
	PageJobID    string                    `json:"page_job_id"`
	ParentID     string                    `json:"parent_id"`
	PageNumber   int                       `json:"page_number"`
	PageFilePath string                    `json:"page_file_path"`
	Options      interfaces.ConvertOptions `json:"options"`
	Attempt      int                       `json:"attempt,omitempty"`
}

// MergePayload is the MERGE task's enqueue payload (§4.I inputs).
type MergePayload struct {
	MergeID  string `json:"merge_id"`
	ParentID string `json:"parent_id"`
	Attempt  int    `json:"attempt,omitempty"`
}
