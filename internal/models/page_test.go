package models

import (
	"testing"
	"time"
)

func TestNewPage(t *testing.T) {
	now := time.Now().UTC()
	page := NewPage("page-1", "main-1", 1, "pagejob-1", "pages/main-1/page_0001.pdf", now)

	if page.Status != StatusPending {
		t.Errorf("expected fresh page to start PENDING, got %s", page.Status)
	}
	if page.RetryCount != 0 {
		t.Errorf("expected fresh page retry_count=0, got %d", page.RetryCount)
	}
	if err := page.Validate(3); err != nil {
		t.Errorf("fresh page should validate, got: %v", err)
	}
}

func TestPageValidate(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name       string
		mutate     func(*Page)
		maxRetries int
		wantErr    bool
	}{
		{
			name:       "valid page",
			mutate:     func(p *Page) {},
			maxRetries: 3,
			wantErr:    false,
		},
		{
			name: "missing page_id",
			mutate: func(p *Page) {
				p.PageID = ""
			},
			maxRetries: 3,
			wantErr:    true,
		},
		{
			name: "zero page_number",
			mutate: func(p *Page) {
				p.PageNumber = 0
			},
			maxRetries: 3,
			wantErr:    true,
		},
		{
			name: "invalid status",
			mutate: func(p *Page) {
				p.Status = JobStatus("UNKNOWN")
			},
			maxRetries: 3,
			wantErr:    true,
		},
		{
			name: "retry_count exceeds ceiling",
			mutate: func(p *Page) {
				p.RetryCount = 4
			},
			maxRetries: 3,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := NewPage("page-1", "main-1", 1, "pagejob-1", "pages/main-1/page_0001.pdf", now)
			tt.mutate(page)
			err := page.Validate(tt.maxRetries)
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}
