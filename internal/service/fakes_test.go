package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/es"
	"docchat-go/pkg/llm"
	"docchat-go/pkg/tasks"
)

// recorder 记录跨协作方的调用顺序。
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) index(call string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.calls {
		if c == call {
			return i
		}
	}
	return -1
}

type fakeThreads struct {
	mu          sync.Mutex
	rec         *recorder
	threads     map[string]*model.Thread
	messages    map[string][]model.ThreadMessage
	appendErr   error
	hardDelErr  error
	hardDelFail map[string]bool // 只让指定会话的物理删除失败
}

func newFakeThreads(rec *recorder) *fakeThreads {
	return &fakeThreads{rec: rec, threads: map[string]*model.Thread{}, messages: map[string][]model.ThreadMessage{}}
}

func (f *fakeThreads) put(t model.Thread) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads[t.ID] = &t
}

func (f *fakeThreads) Create(_ context.Context, t *model.Thread) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	f.threads[t.ID] = &cp
	return nil
}

func (f *fakeThreads) Get(_ context.Context, id string) (*model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.threads[id]
	if !ok {
		return nil, repository.ErrThreadNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeThreads) ListByUser(_ context.Context, userID string) ([]model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Thread
	for _, t := range f.threads {
		if t.UserID == userID && !t.Deleted {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeThreads) Rename(_ context.Context, id, name string) (*model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.threads[id]
	if !ok || t.Deleted {
		return nil, repository.ErrThreadNotFound
	}
	t.Name = name
	cp := *t
	return &cp, nil
}

func (f *fakeThreads) MarkDeleted(_ context.Context, id string, at time.Time) (*model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.threads[id]
	if !ok {
		return nil, repository.ErrThreadNotFound
	}
	if !t.Deleted {
		t.Deleted = true
		t.DeletedAt = &at
	}
	cp := *t
	return &cp, nil
}

func (f *fakeThreads) ListExpired(_ context.Context, before time.Time, limit int) ([]model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Thread
	for _, t := range f.threads {
		if !t.Deleted && t.UpdatedAt.Before(before) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeThreads) ListSoftDeleted(_ context.Context, afterID string, limit int) ([]model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Thread
	for _, t := range f.threads {
		if t.Deleted && t.ID > afterID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeThreads) AppendMessage(_ context.Context, msg *model.ThreadMessage) error {
	f.rec.add("append:" + msg.Role)
	if f.appendErr != nil {
		return f.appendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.threads[msg.ThreadID]
	if !ok || t.Deleted {
		return repository.ErrThreadNotFound
	}
	t.UpdatedAt = msg.CreatedAt
	f.messages[msg.ThreadID] = append(f.messages[msg.ThreadID], *msg)
	return nil
}

func (f *fakeThreads) ListMessages(_ context.Context, threadID string, limit int) ([]model.ThreadMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := append([]model.ThreadMessage(nil), f.messages[threadID]...)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeThreads) HardDelete(_ context.Context, threadID string) error {
	f.rec.add("threads.HardDelete")
	if f.hardDelErr != nil {
		return f.hardDelErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hardDelFail[threadID] {
		return errBoom
	}
	delete(f.threads, threadID)
	delete(f.messages, threadID)
	return nil
}

func (f *fakeThreads) stored(threadID string) []model.ThreadMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ThreadMessage(nil), f.messages[threadID]...)
}

type fakeDocs struct {
	mu         sync.Mutex
	rec        *recorder
	docs       map[string]*model.DocsPerThread
	markErr    error
	createErr  error
	hardDelErr error
}

func newFakeDocs(rec *recorder) *fakeDocs {
	return &fakeDocs{rec: rec, docs: map[string]*model.DocsPerThread{}}
}

func (f *fakeDocs) Create(_ context.Context, doc *model.DocsPerThread) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeDocs) Get(_ context.Context, id string) (*model.DocsPerThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, repository.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDocs) ListByThread(_ context.Context, threadID string, includeDeleted bool) ([]model.DocsPerThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DocsPerThread
	for _, d := range f.docs {
		if d.ThreadID == threadID && (includeDeleted || !d.Deleted) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentName < out[j].DocumentName })
	return out, nil
}

func (f *fakeDocs) MarkDeleted(_ context.Context, id string) error {
	f.rec.add("docs.MarkDeleted")
	if f.markErr != nil {
		return f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[id]; ok {
		d.Deleted = true
	}
	return nil
}

func (f *fakeDocs) MarkDeletedByThread(_ context.Context, threadID string) (int64, error) {
	f.rec.add("docs.MarkDeletedByThread")
	if f.markErr != nil {
		return 0, f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, d := range f.docs {
		if d.ThreadID == threadID && !d.Deleted {
			d.Deleted = true
			n++
		}
	}
	return n, nil
}

func (f *fakeDocs) MarkAvailable(_ context.Context, id, chunkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return repository.ErrDocumentNotFound
	}
	d.AvailableInSearchIndex = true
	d.ExtractAvailable = true
	d.ChunkID = chunkID
	return nil
}

func (f *fakeDocs) HardDelete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func (f *fakeDocs) HardDeleteByThread(_ context.Context, threadID string) error {
	f.rec.add("docs.HardDeleteByThread")
	if f.hardDelErr != nil {
		return f.hardDelErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, d := range f.docs {
		if d.ThreadID == threadID {
			delete(f.docs, id)
		}
	}
	return nil
}

type fakeChunks struct {
	rec *recorder
}

func (f *fakeChunks) ReplaceForDocument(context.Context, string, []*model.DocumentChunk) error {
	return nil
}

func (f *fakeChunks) ListByDocument(context.Context, string) ([]model.DocumentChunk, error) {
	return nil, nil
}

func (f *fakeChunks) DeleteByDocument(context.Context, string) error {
	f.rec.add("chunks.DeleteByDocument")
	return nil
}

func (f *fakeChunks) DeleteByThread(context.Context, string) error {
	f.rec.add("chunks.DeleteByThread")
	return nil
}

type fakeIndex struct {
	mu        sync.Mutex
	rec       *recorder
	hits      []es.Hit
	searchErr error
	deleteErr error
	counts    map[string]int64
	queries   []map[string]interface{}
	deleted   []string
}

func (f *fakeIndex) Search(_ context.Context, q map[string]interface{}) ([]es.Hit, error) {
	f.rec.add("index.Search")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.hits, f.searchErr
}

func (f *fakeIndex) DeleteByTerm(_ context.Context, field, value string) (int64, error) {
	f.rec.add("index.DeleteByTerm:" + field)
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, field+"="+value)
	return 1, nil
}

func (f *fakeIndex) CountByTerm(_ context.Context, _, value string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[value], nil
}

func (f *fakeIndex) Ping(context.Context) error { return nil }

type fakeBlobs struct {
	mu      sync.Mutex
	rec     *recorder
	objects map[string]string
	putErr  error
}

func newFakeBlobs(rec *recorder) *fakeBlobs {
	return &fakeBlobs{rec: rec, objects: map[string]string{}}
}

func (f *fakeBlobs) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[name] = string(b)
	return nil
}

func (f *fakeBlobs) Remove(_ context.Context, name string) error {
	f.rec.add("blobs.Remove")
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, name)
	return nil
}

func (f *fakeBlobs) RemovePrefix(_ context.Context, prefix string) (int, error) {
	f.rec.add("blobs.RemovePrefix")
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for name := range f.objects {
		if strings.HasPrefix(name, prefix) {
			delete(f.objects, name)
			n++
		}
	}
	return n, nil
}

func (f *fakeBlobs) PresignedURL(_ context.Context, name string, _ time.Duration) (string, error) {
	return "https://blobs.local/" + name, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	changes   []tasks.ThreadChangedEvent
	ingestion []tasks.IngestionTask
	err       error

	ingestErrAt int // 第 n 次（从 1 开始）投递入库任务失败
}

func (f *fakePublisher) PublishThreadChanged(_ context.Context, ev tasks.ThreadChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, ev)
	return f.err
}

func (f *fakePublisher) PublishIngestion(_ context.Context, task tasks.IngestionTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingestion = append(f.ingestion, task)
	if f.ingestErrAt > 0 && len(f.ingestion) == f.ingestErrAt {
		return errBoom
	}
	return f.err
}

// fakeLLM 按调用顺序依次返回 replies / errs。
type fakeLLM struct {
	mu      sync.Mutex
	rec     *recorder
	replies []string
	errs    []error
	calls   [][]llm.Message
	params  []*llm.GenerationParams
}

func (f *fakeLLM) ChatCompletion(_ context.Context, msgs []llm.Message, gen *llm.GenerationParams) (string, error) {
	f.rec.add("llm.ChatCompletion")
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, append([]llm.Message(nil), msgs...))
	f.params = append(f.params, gen)
	var reply string
	var err error
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return reply, err
}

func (f *fakeLLM) Ping(context.Context) error { return nil }

type fakeEmbedder struct {
	rec    *recorder
	inputs []string
	err    error
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.rec.add("embedding.CreateEmbedding")
	f.inputs = append(f.inputs, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type memSettingsRepo struct {
	mu      sync.Mutex
	stored  *model.Settings
	saveErr error
	loadErr error
}

func (m *memSettingsRepo) Load(context.Context) (*model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.stored == nil {
		return nil, nil
	}
	cp := m.stored.Clone()
	return &cp, nil
}

func (m *memSettingsRepo) Save(_ context.Context, s model.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := s.Clone()
	m.stored = &cp
	return nil
}

var errBoom = errors.New("boom")
