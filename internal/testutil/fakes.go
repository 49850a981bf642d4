// Package testutil provides in-memory fakes of the orchestration core's
// gateway and collaborator interfaces, grounded on the teacher's own
// test/helpers.go convention of one shared fixture package consumed by
// several packages' test files rather than ad hoc mocks per test file.
package testutil

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
)

// FakeClock is a deterministic interfaces.Clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock { return &FakeClock{now: now} }

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FakeMetadataStore is an in-memory interfaces.MetadataStore.
type FakeMetadataStore struct {
	mu    sync.Mutex
	Jobs  map[string]*models.Job
	Pages map[string]*models.Page // keyed by page_id
}

func NewFakeMetadataStore() *FakeMetadataStore {
	return &FakeMetadataStore{Jobs: make(map[string]*models.Job), Pages: make(map[string]*models.Page)}
}

func (s *FakeMetadataStore) CreateJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.Jobs[job.JobID]; ok {
		return existing, nil
	}
	clone := job.Clone()
	s.Jobs[job.JobID] = clone
	return clone, nil
}

func (s *FakeMetadataStore) UpdateJob(ctx context.Context, jobID string, patch interfaces.JobPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.Jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.ProgressPercent != nil {
		job.ProgressPercent = *patch.ProgressPercent
	}
	if patch.ErrorMessage != nil {
		job.ErrorMessage = patch.ErrorMessage
	}
	if patch.UploadObjectKey != nil {
		job.UploadObjectKey = patch.UploadObjectKey
	}
	if patch.ResultObjectKey != nil {
		job.ResultObjectKey = patch.ResultObjectKey
	}
	if patch.TotalPages != nil {
		job.TotalPages = patch.TotalPages
	}
	if patch.CharCount != nil {
		job.CharCount = *patch.CharCount
	}
	if patch.HasResultStored != nil {
		job.HasResultStored = *patch.HasResultStored
	}
	now := time.Now().UTC()
	if patch.StartedAtNow && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if patch.CompletedAtNow {
		job.CompletedAt = &now
	}
	job.UpdatedAt = now
	return nil
}

func (s *FakeMetadataStore) FindJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.Jobs[jobID]
	if !ok {
		return nil, nil
	}
	return job, nil
}

func (s *FakeMetadataStore) FindChildren(ctx context.Context, parentID string, filter interfaces.StatusFilter) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.Jobs {
		if j.ParentJobID == nil || *j.ParentJobID != parentID {
			continue
		}
		if len(filter) > 0 && !statusIn(j.Status, filter) {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (s *FakeMetadataStore) DeleteCascade(ctx context.Context, mainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Jobs, mainID)
	for id, j := range s.Jobs {
		if j.ParentJobID != nil && *j.ParentJobID == mainID {
			delete(s.Jobs, id)
		}
	}
	for id, p := range s.Pages {
		if p.JobID == mainID {
			delete(s.Pages, id)
		}
	}
	return nil
}

func (s *FakeMetadataStore) FindJobByDedupKey(ctx context.Context, userID, fileChecksum string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.Jobs {
		if j.Type == models.JobTypeMain && j.UserID == userID && j.FileChecksum != nil && *j.FileChecksum == fileChecksum {
			return j, nil
		}
	}
	return nil, nil
}

func (s *FakeMetadataStore) CreatePage(ctx context.Context, page *models.Page) (*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.Pages[page.PageID]; ok {
		return existing, nil
	}
	clone := *page
	s.Pages[page.PageID] = &clone
	return &clone, nil
}

func (s *FakeMetadataStore) UpdatePage(ctx context.Context, pageID string, patch interfaces.PagePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.Pages[pageID]
	if !ok {
		return fmt.Errorf("page %s not found", pageID)
	}
	if patch.Status != nil {
		page.Status = *patch.Status
	}
	if patch.ErrorMessage != nil {
		page.ErrorMessage = patch.ErrorMessage
	}
	if patch.RetryCount != nil {
		page.RetryCount = *patch.RetryCount
	}
	if patch.PageJobID != nil {
		page.PageJobID = *patch.PageJobID
	}
	if patch.MarkdownContent != nil {
		page.MarkdownContent = patch.MarkdownContent
	}
	if patch.CharCount != nil {
		page.CharCount = *patch.CharCount
	}
	if patch.HasResultStored != nil {
		page.HasResultStored = *patch.HasResultStored
	}
	now := time.Now().UTC()
	if patch.CompletedAtNow {
		page.CompletedAt = &now
	}
	page.UpdatedAt = now
	return nil
}

func (s *FakeMetadataStore) FindPage(ctx context.Context, mainID string, pageNumber int) (*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Pages {
		if p.JobID == mainID && p.PageNumber == pageNumber {
			return p, nil
		}
	}
	return nil, nil
}

func (s *FakeMetadataStore) FindPages(ctx context.Context, mainID string) ([]*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Page
	for _, p := range s.Pages {
		if p.JobID == mainID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	return out, nil
}

func (s *FakeMetadataStore) IncrementCounter(ctx context.Context, mainID, pageID string, newPageStatus models.JobStatus, which interfaces.CounterKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if page, ok := s.Pages[pageID]; ok {
		page.Status = newPageStatus
	}
	count := 0
	target := models.StatusCompleted
	if which == interfaces.CounterPagesFailed {
		target = models.StatusFailed
	}
	for _, p := range s.Pages {
		if p.JobID == mainID && p.Status == target {
			count++
		}
	}
	if job, ok := s.Jobs[mainID]; ok {
		if which == interfaces.CounterPagesCompleted {
			job.PagesCompleted = count
		} else {
			job.PagesFailed = count
		}
	}
	return count, nil
}

func (s *FakeMetadataStore) StuckJobs(ctx context.Context, olderThan int64, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.Jobs {
		if j.Status == models.StatusProcessing && j.StartedAt != nil && j.StartedAt.Unix() < olderThan {
			out = append(out, j)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *FakeMetadataStore) StuckPages(ctx context.Context, olderThan int64, limit int) ([]*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Page
	for _, p := range s.Pages {
		if p.Status == models.StatusProcessing && p.CreatedAt.Unix() < olderThan {
			out = append(out, p)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *FakeMetadataStore) RetryablePages(ctx context.Context, mainID string, maxRetries, limit int) ([]*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Page
	for _, p := range s.Pages {
		if p.JobID == mainID && p.Status == models.StatusFailed && p.RetryCount < maxRetries {
			out = append(out, p)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *FakeMetadataStore) RetryablePagesGlobal(ctx context.Context, maxRetries, limit int) ([]*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Page
	for _, p := range s.Pages {
		if p.Status == models.StatusFailed && p.RetryCount < maxRetries {
			out = append(out, p)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *FakeMetadataStore) TerminalJobsOlderThan(ctx context.Context, horizonUnix int64, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.Jobs {
		if j.Status.IsTerminal() && j.CompletedAt != nil && j.CompletedAt.Unix() < horizonUnix {
			out = append(out, j)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *FakeMetadataStore) SystemStats(ctx context.Context) (map[models.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.JobStatus]int)
	for _, j := range s.Jobs {
		out[j.Status]++
	}
	return out, nil
}

func statusIn(s models.JobStatus, filter interfaces.StatusFilter) bool {
	for _, f := range filter {
		if f == s {
			return true
		}
	}
	return false
}

// FakeStatusCache is an in-memory interfaces.StatusCache.
type FakeStatusCache struct {
	mu       sync.Mutex
	statuses map[string]interfaces.StatusRecord
	owners   map[string]string
	children map[string]map[interfaces.ChildRole][]string
	merge    map[string]string // parentID -> winning childID, set-if-absent slot
	pages    map[string]int
	pageByN  map[string]string
	results  map[string]interfaces.ResultBlob
}

func NewFakeStatusCache() *FakeStatusCache {
	return &FakeStatusCache{
		statuses: make(map[string]interfaces.StatusRecord),
		owners:   make(map[string]string),
		children: make(map[string]map[interfaces.ChildRole][]string),
		merge:    make(map[string]string),
		pages:    make(map[string]int),
		pageByN:  make(map[string]string),
		results:  make(map[string]interfaces.ResultBlob),
	}
}

func (c *FakeStatusCache) PutStatus(ctx context.Context, jobID string, rec interfaces.StatusRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID] = rec
	return nil
}

func (c *FakeStatusCache) GetStatus(ctx context.Context, jobID string) (*interfaces.StatusRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.statuses[jobID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (c *FakeStatusCache) SetOwner(ctx context.Context, jobID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[jobID] = userID
	return nil
}

func (c *FakeStatusCache) VerifyOwner(ctx context.Context, jobID, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owners[jobID] == userID, nil
}

func (c *FakeStatusCache) ListUserJobs(ctx context.Context, userID string, limit int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for jobID, u := range c.owners {
		if u == userID {
			out = append(out, jobID)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (c *FakeStatusCache) UpdateProgress(ctx context.Context, jobID string, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.statuses[jobID]
	rec.Progress = value
	c.statuses[jobID] = rec
	return nil
}

func (c *FakeStatusCache) AddChild(ctx context.Context, parentID string, role interfaces.ChildRole, childID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.children[parentID] == nil {
		c.children[parentID] = make(map[interfaces.ChildRole][]string)
	}
	c.children[parentID][role] = append(c.children[parentID][role], childID)
	return nil
}

func (c *FakeStatusCache) GetPageChildren(ctx context.Context, parentID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.children[parentID][interfaces.ChildRolePage]...), nil
}

func (c *FakeStatusCache) GetChild(ctx context.Context, parentID string, role interfaces.ChildRole) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.children[parentID][role]
	if len(ids) == 0 {
		return "", false, nil
	}
	return ids[0], true, nil
}

func (c *FakeStatusCache) SetChildIfAbsent(ctx context.Context, parentID string, role interfaces.ChildRole, childID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := parentID + ":" + string(role)
	if _, ok := c.merge[key]; ok {
		return false, nil
	}
	c.merge[key] = childID
	if c.children[parentID] == nil {
		c.children[parentID] = make(map[interfaces.ChildRole][]string)
	}
	c.children[parentID][role] = []string{childID}
	return true, nil
}

func (c *FakeStatusCache) SetPagesTotal(ctx context.Context, mainID string, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[mainID] = n
	return nil
}

func (c *FakeStatusCache) GetPagesTotal(ctx context.Context, mainID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.pages[mainID]
	return n, ok, nil
}

func (c *FakeStatusCache) GetPageChildByNumber(ctx context.Context, mainID string, pageNumber int) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.pageByN[fmt.Sprintf("%s:%d", mainID, pageNumber)]
	return id, ok, nil
}

func (c *FakeStatusCache) SetPageChildByNumber(ctx context.Context, mainID string, pageNumber int, childID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pageByN[fmt.Sprintf("%s:%d", mainID, pageNumber)] = childID
	return nil
}

func (c *FakeStatusCache) CountCompletedPageChildren(ctx context.Context, mainID string) (int, error) {
	return c.countPageChildrenWithStatus(mainID, models.StatusCompleted)
}

func (c *FakeStatusCache) CountFailedPageChildren(ctx context.Context, mainID string) (int, error) {
	return c.countPageChildrenWithStatus(mainID, models.StatusFailed)
}

func (c *FakeStatusCache) countPageChildrenWithStatus(mainID string, status models.JobStatus) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, childID := range c.children[mainID][interfaces.ChildRolePage] {
		if rec, ok := c.statuses[childID]; ok && rec.Status == string(status) {
			count++
		}
	}
	return count, nil
}

func (c *FakeStatusCache) AllPageChildrenTerminal(ctx context.Context, mainID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	children := c.children[mainID][interfaces.ChildRolePage]
	if len(children) == 0 {
		return false, nil
	}
	for _, childID := range children {
		rec, ok := c.statuses[childID]
		if !ok {
			return false, nil
		}
		s := models.JobStatus(rec.Status)
		if !s.IsTerminal() {
			return false, nil
		}
	}
	return true, nil
}

func (c *FakeStatusCache) SetResult(ctx context.Context, jobID string, blob interfaces.ResultBlob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[jobID] = blob
	return nil
}

func (c *FakeStatusCache) GetResult(ctx context.Context, jobID string) (*interfaces.ResultBlob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	blob, ok := c.results[jobID]
	if !ok {
		return nil, nil
	}
	return &blob, nil
}

func (c *FakeStatusCache) DeleteJobKeys(ctx context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statuses, jobID)
	delete(c.results, jobID)
	delete(c.children, jobID)
	delete(c.pages, jobID)
	return nil
}

// FakeQueue records every enqueued task for assertions.
type FakeQueue struct {
	mu    sync.Mutex
	Tasks []interfaces.Task
}

func NewFakeQueue() *FakeQueue { return &FakeQueue{} }

func (q *FakeQueue) Enqueue(ctx context.Context, task interfaces.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Tasks = append(q.Tasks, task)
	return nil
}

func (q *FakeQueue) EnqueuePeriodic(ctx context.Context, taskName, cronExpression string) error {
	return nil
}

func (q *FakeQueue) CountByType(taskType string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.Tasks {
		if t.Type == taskType {
			n++
		}
	}
	return n
}

// FakeBlobStore is an in-memory interfaces.BlobStore.
type FakeBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewFakeBlobStore() *FakeBlobStore { return &FakeBlobStore{data: make(map[string][]byte)} }

func (b *FakeBlobStore) key(bucket, key string) string { return bucket + "/" + key }

func (b *FakeBlobStore) Put(ctx context.Context, bucket, key string, r io.Reader, contentType string) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[b.key(bucket, key)] = buf
	return nil
}

func (b *FakeBlobStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.data[b.key(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("blob %s/%s not found", bucket, key)
	}
	return io.NopCloser(bytesReader(buf)), nil
}

func (b *FakeBlobStore) Delete(ctx context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, b.key(bucket, key))
	return nil
}

func (b *FakeBlobStore) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	full := bucket + "/" + prefix
	for k := range b.data {
		if len(k) >= len(full) && k[:len(full)] == full {
			delete(b.data, k)
		}
	}
	return nil
}

func (b *FakeBlobStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[b.key(bucket, key)]
	return ok, nil
}

func (b *FakeBlobStore) PublicURL(bucket, key, requestHost string) string {
	return "http://" + requestHost + "/" + bucket + "/" + key
}

// FakeResultIndex is an in-memory interfaces.ResultIndex.
type FakeResultIndex struct {
	mu    sync.Mutex
	jobs  map[string]interfaces.ResultIndexEntry
	pages map[string]interfaces.ResultIndexEntry
}

func NewFakeResultIndex() *FakeResultIndex {
	return &FakeResultIndex{jobs: make(map[string]interfaces.ResultIndexEntry), pages: make(map[string]interfaces.ResultIndexEntry)}
}

func (r *FakeResultIndex) StoreJob(ctx context.Context, mainID, markdown, userID, filename string, totalPages int, metadata map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[mainID] = interfaces.ResultIndexEntry{MainID: mainID, UserID: userID, Filename: filename, Markdown: markdown, Metadata: metadata}
	return nil
}

func (r *FakeResultIndex) StorePage(ctx context.Context, mainID string, pageNumber int, markdown string, metadata map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pn := pageNumber
	r.pages[fmt.Sprintf("%s:%d", mainID, pageNumber)] = interfaces.ResultIndexEntry{MainID: mainID, PageNumber: &pn, Markdown: markdown, Metadata: metadata}
	return nil
}

func (r *FakeResultIndex) GetJob(ctx context.Context, mainID string) (*interfaces.ResultIndexEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[mainID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *FakeResultIndex) GetPage(ctx context.Context, mainID string, pageNumber int) (*interfaces.ResultIndexEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pages[fmt.Sprintf("%s:%d", mainID, pageNumber)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *FakeResultIndex) Search(ctx context.Context, userID, query string, limit int) ([]interfaces.ResultIndexEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interfaces.ResultIndexEntry
	for _, e := range r.jobs {
		if e.UserID == userID {
			out = append(out, e)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *FakeResultIndex) DeleteJob(ctx context.Context, mainID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, mainID)
	return nil
}

func (r *FakeResultIndex) DeleteAllPages(ctx context.Context, mainID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.pages {
		if e.MainID == mainID {
			delete(r.pages, k)
		}
	}
	return nil
}

func (r *FakeResultIndex) HealthCheck(ctx context.Context) error { return nil }

type byteReader struct {
	data []byte
	pos  int
}

func bytesReader(b []byte) *byteReader { return &byteReader{data: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// FakeConverter is a deterministic interfaces.DocumentConverter.
type FakeConverter struct {
	Markdown string
	Err      error
}

func NewFakeConverter(markdown string) *FakeConverter { return &FakeConverter{Markdown: markdown} }

func (c *FakeConverter) Convert(ctx context.Context, path string, opts interfaces.ConvertOptions) (interfaces.ConvertResult, error) {
	if c.Err != nil {
		return interfaces.ConvertResult{}, c.Err
	}
	return interfaces.ConvertResult{
		Markdown: c.Markdown,
		Metadata: interfaces.ConvertMetadata{Pages: 1, Words: len(c.Markdown) / 5, Format: "pdf", SizeBytes: int64(len(c.Markdown))},
	}, nil
}

// FakeTranscriber is a deterministic interfaces.AudioTranscriber.
type FakeTranscriber struct{}

func (FakeTranscriber) Transcribe(ctx context.Context, path string, opts interfaces.ConvertOptions) (interfaces.TranscribeResult, error) {
	return interfaces.TranscribeResult{
		Segments:  []interfaces.TranscriptSegment{{Text: "stub transcript"}},
		Language:  "en",
		WordCount: 2,
		CharCount: len("stub transcript"),
		Provider:  "stub",
	}, nil
}

func (FakeTranscriber) FormatAsMarkdown(result interfaces.TranscribeResult, includeTimestamps bool) string {
	var out string
	for _, seg := range result.Segments {
		out += seg.Text + "\n"
	}
	return out
}

// FakeExtractor is a deterministic interfaces.PageExtractor.
type FakeExtractor struct {
	PageCount         int
	ShouldSplitResult bool
}

func (e *FakeExtractor) Split(ctx context.Context, pdfPath, mainID string) ([]interfaces.ExtractedPage, error) {
	var out []interfaces.ExtractedPage
	n := e.PageCount
	if n == 0 {
		n = 1
	}
	for i := 1; i <= n; i++ {
		out = append(out, interfaces.ExtractedPage{
			PageNumber: i,
			LocalPath:  fmt.Sprintf("/tmp/%s/page_%04d.pdf", mainID, i),
			BlobKey:    fmt.Sprintf("pages/%s/page_%04d.pdf", mainID, i),
		})
	}
	return out, nil
}

func (e *FakeExtractor) ExtractOne(ctx context.Context, pdfPath string, pageNumber int, mainID string) (interfaces.ExtractedPage, error) {
	return interfaces.ExtractedPage{
		PageNumber: pageNumber,
		LocalPath:  fmt.Sprintf("/tmp/%s/page_%04d.pdf", mainID, pageNumber),
		BlobKey:    fmt.Sprintf("pages/%s/page_%04d.pdf", mainID, pageNumber),
	}, nil
}

func (e *FakeExtractor) CountPages(ctx context.Context, pdfPath string) (int, error) {
	if e.PageCount == 0 {
		return 1, nil
	}
	return e.PageCount, nil
}

func (e *FakeExtractor) ShouldSplit(ctx context.Context, pdfPath string, minPages int) (bool, error) {
	return e.ShouldSplitResult, nil
}
