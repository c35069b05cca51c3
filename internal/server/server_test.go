package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"judicial-anonymizer/internal/anonymizer"
	"judicial-anonymizer/internal/config"
	"judicial-anonymizer/internal/metrics"
	"judicial-anonymizer/internal/profiles"
)

func testConfig() *config.Config {
	return &config.Config{
		BindAddress:    "127.0.0.1",
		Port:           8090,
		LogLevel:       "error",
		DefaultProfile: "default",
		MaxBodyBytes:   1 << 20,
		BatchWorkers:   2,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	return New(cfg, profiles.NewMemoryStore(), m), m
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type anonymizeResponse struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Report struct {
		Categories       map[string]int `json:"categories"`
		Persons          int            `json:"persons"`
		NameReplacements int            `json:"nameReplacements"`
	} `json:"report"`
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	w := do(t, s.Handler(), http.MethodGet, "/status", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["status"] != "running" {
		t.Errorf("expected status=running, got %v", resp["status"])
	}
	if resp["defaultProfile"] != "default" {
		t.Errorf("defaultProfile: got %v", resp["defaultProfile"])
	}
	cats, ok := resp["categories"].([]any)
	if !ok || len(cats) == 0 || cats[0] != "PROCESSO" {
		t.Errorf("categories should list PROCESSO first, got %v", resp["categories"])
	}
}

func TestHandleAnonymize_DefaultsWhenNoProfileSaved(t *testing.T) {
	s, m := newTestServer(t, testConfig())
	body := `{"text":"Reclamante João Silva, CPF 123.456.789-00.","names":["João Silva (reclamante)"]}`
	w := do(t, s.Handler(), http.MethodPost, "/anonymize", body)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp anonymizeResponse
	decodeBody(t, w, &resp)
	if resp.Text != "Reclamante [PESSOA 1], CPF [CPF]." {
		t.Errorf("text: got %q", resp.Text)
	}
	if resp.Report.Categories["CPF"] != 1 || resp.Report.NameReplacements != 1 || resp.Report.Persons != 1 {
		t.Errorf("report: got %+v", resp.Report)
	}
	if resp.ID != w.Header().Get(RequestIDHeader) {
		t.Errorf("body id %q does not match header %q", resp.ID, w.Header().Get(RequestIDHeader))
	}

	snap := m.Snapshot()
	if snap.Requests.Total != 1 || snap.Requests.Documents != 1 {
		t.Errorf("request counters: %+v", snap.Requests)
	}
	if snap.Redactions.ByCategory["CPF"] != 1 || snap.Redactions.NameReplacements != 1 {
		t.Errorf("redaction counters: %+v", snap.Redactions)
	}
	if snap.LatencyMs.Count != 1 {
		t.Errorf("latency count: got %d", snap.LatencyMs.Count)
	}
}

func TestHandleAnonymize_InlineDisabledConfigPassesThrough(t *testing.T) {
	s, m := newTestServer(t, testConfig())
	body := `{"text":"CPF 123.456.789-00","config":{"enabled":false}}`
	w := do(t, s.Handler(), http.MethodPost, "/anonymize", body)

	var resp anonymizeResponse
	decodeBody(t, w, &resp)
	if resp.Text != "CPF 123.456.789-00" {
		t.Errorf("disabled config must return text unchanged, got %q", resp.Text)
	}
	if m.Snapshot().Requests.Disabled != 1 {
		t.Errorf("expected one disabled request, got %d", m.Snapshot().Requests.Disabled)
	}
}

func TestHandleAnonymize_UsesSavedProfile(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	w := do(t, h, http.MethodPut, "/profiles/vara-1", `{"enabled":true,"cpf":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT profile: got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodPost, "/anonymize", `{"text":"CPF 123.456.789-00, email joao@example.com","profile":"vara-1"}`)
	var resp anonymizeResponse
	decodeBody(t, w, &resp)
	if resp.Text != "CPF 123.456.789-00, email [EMAIL]" {
		t.Errorf("profile with cpf=false should keep the CPF, got %q", resp.Text)
	}
}

func TestHandleAnonymize_DefaultProfileApplies(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()
	do(t, h, http.MethodPut, "/profiles/default", `{"enabled":true,"valores":true}`)

	w := do(t, h, http.MethodPost, "/anonymize", `{"text":"Valor de R$ 1.500,00"}`)
	var resp anonymizeResponse
	decodeBody(t, w, &resp)
	if resp.Text != "Valor de [VALOR]" {
		t.Errorf("saved default profile should enable valores, got %q", resp.Text)
	}
}

func TestHandleAnonymize_UnknownProfile(t *testing.T) {
	s, m := newTestServer(t, testConfig())
	w := do(t, s.Handler(), http.MethodPost, "/anonymize", `{"text":"x","profile":"nope"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if m.Snapshot().Requests.Rejected != 1 {
		t.Errorf("expected one rejected request")
	}
}

func TestHandleAnonymize_BadRequests(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 64
	s, _ := newTestServer(t, cfg)
	h := s.Handler()

	cases := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"invalid JSON", http.MethodPost, "{not json", http.StatusBadRequest},
		{"body too large", http.MethodPost, `{"text":"` + strings.Repeat("a", 200) + `"}`, http.StatusRequestEntityTooLarge},
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
	}
	for _, c := range cases {
		w := do(t, h, c.method, "/anonymize", c.body)
		if w.Code != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, w.Code)
		}
	}
}

func TestHandleAnonymizeJSON_SkipsStructuralKeys(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	body := `{"document":{"model":"modelo-123.456.789-00","messages":[{"role":"user","content":"email joao@example.com"}]}}`
	w := do(t, s.Handler(), http.MethodPost, "/anonymize/json", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Document struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		} `json:"document"`
	}
	decodeBody(t, w, &resp)
	if resp.Document.Model != "modelo-123.456.789-00" {
		t.Errorf("model must not be rewritten, got %q", resp.Document.Model)
	}
	if len(resp.Document.Messages) != 1 || resp.Document.Messages[0].Content != "email [EMAIL]" {
		t.Errorf("messages: got %+v", resp.Document.Messages)
	}
}

func TestHandleAnonymizeJSON_RecordsCategoryMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.LogLevel = "debug"
	s, m := newTestServer(t, cfg)
	body := `{"document":{"messages":[{"role":"user","content":"email joao@example.com, CPF 123.456.789-00"},` +
		`{"role":"user","content":"outro: maria@example.com"}]}}`
	w := do(t, s.Handler(), http.MethodPost, "/anonymize/json", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Report struct {
			Categories map[string]int `json:"categories"`
		} `json:"report"`
	}
	decodeBody(t, w, &resp)
	if resp.Report.Categories["EMAIL"] != 2 || resp.Report.Categories["CPF"] != 1 {
		t.Errorf("report categories: got %v", resp.Report.Categories)
	}

	snap := m.Snapshot()
	if snap.Requests.Documents != 1 {
		t.Errorf("documents: got %d, want 1", snap.Requests.Documents)
	}
	if snap.Redactions.ByCategory["EMAIL"] != 2 || snap.Redactions.ByCategory["CPF"] != 1 {
		t.Errorf("byCategory: got %v", snap.Redactions.ByCategory)
	}
	if snap.Redactions.Structural != 3 {
		t.Errorf("structural: got %d, want 3", snap.Redactions.Structural)
	}
	if snap.LatencyMs.Count != 1 {
		t.Errorf("latency count: got %d, want 1", snap.LatencyMs.Count)
	}
}

func TestCategoryCounts(t *testing.T) {
	rep := anonymizer.Report{Categories: map[anonymizer.Category]int{
		anonymizer.CategoryEmail: 1,
		anonymizer.CategoryCPF:   2,
	}}
	if got := categoryCounts(rep); got != "CPF:2,EMAIL:1" {
		t.Errorf("categoryCounts = %q", got)
	}
	if got := categoryCounts(anonymizer.Report{}); got != "" {
		t.Errorf("empty report: got %q", got)
	}
}

func TestHandleAnonymizeJSON_MissingDocument(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	w := do(t, s.Handler(), http.MethodPost, "/anonymize/json", `{"names":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleAnonymizeBatch_PreservesOrder(t *testing.T) {
	s, m := newTestServer(t, testConfig())
	body := `{"texts":["email joao@example.com","sem dados","fone (11) 3456-7890"]}`
	w := do(t, s.Handler(), http.MethodPost, "/anonymize/batch", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Results []struct {
			Text string `json:"text"`
		} `json:"results"`
	}
	decodeBody(t, w, &resp)
	want := []string{"email [EMAIL]", "sem dados", "fone [TELEFONE]"}
	if len(resp.Results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(resp.Results))
	}
	for i, r := range resp.Results {
		if r.Text != want[i] {
			t.Errorf("result %d: got %q, want %q", i, r.Text, want[i])
		}
	}
	if m.Snapshot().Requests.Documents != 3 {
		t.Errorf("documents: got %d, want 3", m.Snapshot().Requests.Documents)
	}
}

func TestHandleAnonymizeBatch_TooLarge(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	texts := make([]string, MaxBatchSize+1)
	body, _ := json.Marshal(map[string]any{"texts": texts})
	w := do(t, s.Handler(), http.MethodPost, "/anonymize/batch", string(body))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
}

func TestProfilesCRUD(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	if w := do(t, h, http.MethodGet, "/profiles/vara-2", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET missing: expected 404, got %d", w.Code)
	}

	w := do(t, h, http.MethodPut, "/profiles/vara-2", `{"enabled":true,"nomesUsuario":["Ana Lima"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT: expected 200, got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/profiles/vara-2", "")
	var got map[string]any
	decodeBody(t, w, &got)
	if got["enabled"] != true || got["cpf"] != true || got["valores"] != false {
		t.Errorf("GET: absent keys should keep defaults, got %v", got)
	}

	w = do(t, h, http.MethodGet, "/profiles", "")
	var list struct {
		Profiles []string `json:"profiles"`
	}
	decodeBody(t, w, &list)
	if len(list.Profiles) != 1 || list.Profiles[0] != "vara-2" {
		t.Errorf("list: got %v", list.Profiles)
	}

	if w := do(t, h, http.MethodDelete, "/profiles/vara-2", ""); w.Code != http.StatusOK {
		t.Errorf("DELETE: expected 200, got %d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/profiles/vara-2", ""); w.Code != http.StatusNotFound {
		t.Errorf("second DELETE: expected 404, got %d", w.Code)
	}
}

func TestPutProfile_InvalidBody(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	w := do(t, s.Handler(), http.MethodPut, "/profiles/x", `{"enabled":"yes"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestPutProfile_NameTooLong(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	name := strings.Repeat("n", profiles.MaxNameLength+1)
	w := do(t, s.Handler(), http.MethodPut, "/profiles/"+name, `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.APIToken = "s3cret"
	s, m := newTestServer(t, cfg)
	h := s.Handler()

	cases := []struct {
		name   string
		header []string
		want   int
	}{
		{"no header", nil, http.StatusUnauthorized},
		{"wrong token", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"not bearer", []string{"Authorization", "Basic s3cret"}, http.StatusUnauthorized},
		{"valid", []string{"Authorization", "Bearer s3cret"}, http.StatusOK},
	}
	for _, c := range cases {
		w := do(t, h, http.MethodGet, "/status", "", c.header...)
		if w.Code != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, w.Code)
		}
	}
	if m.Snapshot().Requests.Rejected != 3 {
		t.Errorf("rejected: got %d, want 3", m.Snapshot().Requests.Rejected)
	}
}

func TestRequestID(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	w := do(t, h, http.MethodGet, "/status", "")
	if _, err := uuid.Parse(w.Header().Get(RequestIDHeader)); err != nil {
		t.Errorf("expected generated UUID, got %q", w.Header().Get(RequestIDHeader))
	}

	id := uuid.NewString()
	w = do(t, h, http.MethodGet, "/status", "", RequestIDHeader, id)
	if w.Header().Get(RequestIDHeader) != id {
		t.Errorf("valid caller ID should be kept: got %q, want %q", w.Header().Get(RequestIDHeader), id)
	}

	w = do(t, h, http.MethodGet, "/status", "", RequestIDHeader, "not-a-uuid\r\n")
	if got := w.Header().Get(RequestIDHeader); got == "not-a-uuid\r\n" {
		t.Error("invalid caller ID should be replaced")
	}
}

func TestHandleMetrics(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	w := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"requests"`)) {
		t.Errorf("metrics body missing requests: %s", w.Body.String())
	}

	noMetrics := New(testConfig(), profiles.NewMemoryStore(), nil)
	w = do(t, noMetrics.Handler(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("nil metrics: expected 503, got %d", w.Code)
	}
}
