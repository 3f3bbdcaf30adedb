package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"docchat-go/internal/model"
	"docchat-go/internal/service"
	"docchat-go/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubThreads struct {
	service.ThreadService
	postErr  error
	posted   []string
	stages   []string
	threadID string
}

func (s *stubThreads) ListThreads(context.Context, string) ([]model.Thread, error) {
	return []model.Thread{{ID: "t1", UserID: "u1", Name: "Policy"}}, nil
}

func (s *stubThreads) GetThread(_ context.Context, userID, threadID string) (*model.Thread, error) {
	switch {
	case threadID == "missing":
		return nil, service.ErrThreadNotFound
	case userID != "u1":
		return nil, service.ErrForbidden
	}
	return &model.Thread{ID: threadID, UserID: userID}, nil
}

func (s *stubThreads) PostMessage(_ context.Context, userID, threadID, message string, progress service.ProgressFunc) (*model.ThreadMessage, error) {
	s.posted = append(s.posted, message)
	if s.postErr != nil {
		return nil, s.postErr
	}
	if progress != nil {
		progress(service.StageSearching)
	}
	return &model.ThreadMessage{ID: "m2", ThreadID: threadID, UserID: userID, Role: model.RoleAssistant, Content: "answer"}, nil
}

type stubDocs struct {
	service.DocumentService
	uploaded []service.UploadFile
	bodies   []string
}

func (s *stubDocs) Upload(_ context.Context, _, threadID string, files []service.UploadFile) ([]model.DocsPerThread, error) {
	var out []model.DocsPerThread
	for _, f := range files {
		b, _ := io.ReadAll(f.Reader)
		s.bodies = append(s.bodies, string(b))
		s.uploaded = append(s.uploaded, f)
		out = append(out, model.DocsPerThread{ID: "d-" + f.Name, ThreadID: threadID, DocumentName: f.Name})
	}
	return out, nil
}

type stubSettings struct {
	current model.Settings
}

func (s *stubSettings) Get() model.Settings { return s.current }

func (s *stubSettings) Update(_ context.Context, in model.Settings) (model.Settings, error) {
	if in.Temperature > 2 {
		return model.Settings{}, fmt.Errorf("%w: temperature", service.ErrInvalidInput)
	}
	s.current = in
	return in, nil
}

type stubSearch struct {
	queries []string
}

func (s *stubSearch) SearchThread(_ context.Context, _, _, query string, topK int, _ bool) ([]model.Citation, error) {
	s.queries = append(s.queries, fmt.Sprintf("%s/%d", query, topK))
	return []model.Citation{{DocumentID: "d1", FileName: "policy.pdf", Content: "Deductible is $500."}}, nil
}

type stubHealth struct{ report model.HealthReport }

func (s stubHealth) Check(context.Context) model.HealthReport { return s.report }

type testServer struct {
	router   *gin.Engine
	jwt      *token.JWTManager
	threads  *stubThreads
	docs     *stubDocs
	search   *stubSearch
	settings *stubSettings
}

func newTestServer(health model.HealthReport) *testServer {
	ts := &testServer{
		jwt:      token.NewJWTManager("test-secret", "docchat", 1),
		threads:  &stubThreads{},
		docs:     &stubDocs{},
		search:   &stubSearch{},
		settings: &stubSettings{current: model.Settings{Temperature: 0.7}},
	}
	ts.router = NewRouter(ts.jwt, Handlers{
		Threads:   NewThreadHandler(ts.threads),
		Documents: NewDocumentHandler(ts.docs, 1<<20),
		Search:    NewSearchHandler(ts.threads, ts.search, ts.settings),
		Chat:      NewChatHandler(ts.threads),
		Settings:  NewSettingsHandler(ts.settings),
		Health:    NewHealthHandler(stubHealth{report: health}),
	}, 1<<20)
	return ts
}

func (ts *testServer) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := ts.jwt.GenerateToken(userID, userID+"-name", role)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, tok string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return env
}

func TestRoutesRequireToken(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
	if w := ts.do(t, http.MethodGet, "/api/v1/threads", "", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/api/v1/threads", "garbage", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	// 普通请求不接受查询参数中的 token
	if w := ts.do(t, http.MethodGet, "/api/v1/threads?token="+ts.token(t, "u1", "USER"), "", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListThreads(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
	w := ts.do(t, http.MethodGet, "/api/v1/threads", ts.token(t, "u1", "USER"), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	env := decode(t, w)
	var threads []model.Thread
	if err := json.Unmarshal(env.Data, &threads); err != nil || len(threads) != 1 {
		t.Fatalf("data = %s", env.Data)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrThreadNotFound, http.StatusNotFound},
		{service.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: empty", service.ErrInvalidInput), http.StatusBadRequest},
		{&service.ServiceError{Kind: service.KindAIService, Op: "complete", Err: service.ErrEmptyCompletion}, http.StatusBadGateway},
		{&service.ServiceError{Kind: service.KindSearchService, Op: "search", Err: io.EOF}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
		ts.threads.postErr = tc.err
		w := ts.do(t, http.MethodPost, "/api/v1/threads/t1/messages", ts.token(t, "u1", "USER"),
			strings.NewReader(`{"message":"hi"}`), "application/json")
		if w.Code != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, w.Code, tc.want)
		}
		if env := decode(t, w); env.Code != tc.want {
			t.Errorf("%v: envelope code = %d", tc.err, env.Code)
		}
	}
}

func TestInternalErrorsHideDetails(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
	ts.threads.postErr = &service.ServiceError{Kind: service.KindThreadRepository, Op: "append", Err: fmt.Errorf("dial tcp 10.0.0.5:3306")}
	w := ts.do(t, http.MethodPost, "/api/v1/threads/t1/messages", ts.token(t, "u1", "USER"),
		strings.NewReader(`{"message":"hi"}`), "application/json")
	if strings.Contains(w.Body.String(), "10.0.0.5") {
		t.Fatalf("internal detail leaked: %s", w.Body)
	}
}

func TestPostMessageRequiresBody(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
	w := ts.do(t, http.MethodPost, "/api/v1/threads/t1/messages", ts.token(t, "u1", "USER"), strings.NewReader(`{}`), "application/json")
	if w.Code != http.StatusBadRequest || len(ts.threads.posted) != 0 {
		t.Fatalf("status = %d, posted = %v", w.Code, ts.threads.posted)
	}
}

func TestUploadDocuments(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range map[string]string{"a.txt": "alpha", "b.md": "# beta"} {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	mw.Close()

	w := ts.do(t, http.MethodPost, "/api/v1/threads/t1/documents", ts.token(t, "u1", "USER"), &body, mw.FormDataContentType())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	if len(ts.docs.uploaded) != 2 {
		t.Fatalf("uploaded = %+v", ts.docs.uploaded)
	}
	for i, f := range ts.docs.uploaded {
		if f.Size != int64(len(ts.docs.bodies[i])) {
			t.Fatalf("file %s size = %d, body %q", f.Name, f.Size, ts.docs.bodies[i])
		}
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("files", "big.txt")
	fw.Write(bytes.Repeat([]byte("x"), 2<<20))
	mw.Close()

	w := ts.do(t, http.MethodPost, "/api/v1/threads/t1/documents", ts.token(t, "u1", "USER"), &body, mw.FormDataContentType())
	if w.Code != http.StatusRequestEntityTooLarge && w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if len(ts.docs.uploaded) != 0 {
		t.Fatal("oversized upload reached the service")
	}
}

func TestUploadRequiresFiles(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("note", "x")
	mw.Close()
	w := ts.do(t, http.MethodPost, "/api/v1/threads/t1/documents", ts.token(t, "u1", "USER"), &body, mw.FormDataContentType())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSettingsUpdateRequiresAdmin(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
	payload := `{"allowFollowUpPrompts":true,"temperature":0.2}`

	w := ts.do(t, http.MethodPut, "/api/v1/settings", ts.token(t, "u1", "USER"), strings.NewReader(payload), "application/json")
	if w.Code != http.StatusForbidden {
		t.Fatalf("user status = %d", w.Code)
	}
	w = ts.do(t, http.MethodPut, "/api/v1/settings", ts.token(t, "admin", "ADMIN"), strings.NewReader(payload), "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("admin status = %d body = %s", w.Code, w.Body)
	}
	if !ts.settings.current.AllowFollowUpPrompts || ts.settings.current.Temperature != 0.2 {
		t.Fatalf("settings = %+v", ts.settings.current)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/settings", ts.token(t, "u1", "USER"), nil, "")
	var got model.Settings
	if err := json.Unmarshal(decode(t, w).Data, &got); err != nil || got.Temperature != 0.2 {
		t.Fatalf("GET settings = %s", w.Body)
	}

	w = ts.do(t, http.MethodPut, "/api/v1/settings", ts.token(t, "admin", "ADMIN"), strings.NewReader(`{"temperature":3}`), "application/json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid settings status = %d", w.Code)
	}
}

func TestThreadSearch(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
	tok := ts.token(t, "u1", "USER")

	w := ts.do(t, http.MethodGet, "/api/v1/threads/t1/search?query=deductible%3F&topK=500", tok, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	if len(ts.search.queries) != 1 || ts.search.queries[0] != "deductible/50" {
		t.Fatalf("queries = %v", ts.search.queries)
	}
	if w := ts.do(t, http.MethodGet, "/api/v1/threads/t1/search?query=%3F%3F", tok, nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("punctuation-only query status = %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/api/v1/threads/missing/search?query=x", tok, nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing thread status = %d", w.Code)
	}
}

func TestSupportedTypes(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
	w := ts.do(t, http.MethodGet, "/api/v1/documents/supported-types", ts.token(t, "u1", "USER"), nil, "")
	var types []service.FileType
	if err := json.Unmarshal(decode(t, w).Data, &types); err != nil || len(types) == 0 {
		t.Fatalf("body = %s", w.Body)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy, Components: []model.ComponentHealth{{Component: "mysql", Status: model.HealthHealthy}}})
	if w := ts.do(t, http.MethodGet, "/health", "", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	ts = newTestServer(model.HealthReport{Status: model.HealthUnhealthy, Components: []model.ComponentHealth{{Component: "elasticsearch", Status: model.HealthUnhealthy, Error: "down"}}})
	w := ts.do(t, http.MethodGet, "/health", "", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	var report model.HealthReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil || report.Components[0].Error != "down" {
		t.Fatalf("body = %s", w.Body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
	w := ts.do(t, http.MethodGet, "/metrics", "", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCORSReflectsOrigin(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/threads", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allow origin = %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("credentials not allowed")
	}
}

func TestWebSocketChat(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/threads/t1/ws?token=" + ts.token(t, "u1", "USER")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(chatRequest{Message: "What is the deductible?"}); err != nil {
		t.Fatal(err)
	}
	var types []string
	for {
		var f chatFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		types = append(types, f.Type)
		if f.Type == frameCompletion {
			break
		}
	}
	if got := strings.Join(types, ","); got != "status,message,completion" {
		t.Fatalf("frames = %s", got)
	}
	if len(ts.threads.posted) != 1 || ts.threads.posted[0] != "What is the deductible?" {
		t.Fatalf("posted = %v", ts.threads.posted)
	}
}

func TestWebSocketRejectsForeignThread(t *testing.T) {
	ts := newTestServer(model.HealthReport{Status: model.HealthHealthy})
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/threads/t1/ws?token=" + ts.token(t, "u2", "USER")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp = %+v", resp)
	}
}
