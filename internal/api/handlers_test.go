package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"metricwatch-backend/internal/anomaly"
	"metricwatch-backend/internal/engine"
	"metricwatch-backend/internal/notify"
	"metricwatch-backend/internal/rules"
	"metricwatch-backend/internal/throttle"
	"metricwatch-backend/internal/window"
)

type prefixEncryptor struct{}

func (prefixEncryptor) Encrypt(plain string) (string, error) { return "enc:" + plain, nil }
func (prefixEncryptor) Decrypt(cipherText string) (string, error) {
	return strings.TrimPrefix(cipherText, "enc:"), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	windows := window.NewStore(2000, 0)
	detector := anomaly.NewDetector()
	ruleEngine := rules.NewEngine(windows, engine.LatestVerdicts{Windows: windows, Detector: detector})
	eng := engine.New(engine.Options{
		Windows:    windows,
		Detector:   detector,
		Rules:      ruleEngine,
		Throttle:   throttle.NewController(),
		Dispatcher: notify.NewDispatcher(time.Second, nil, nil),
		Interval:   time.Hour,
	})
	eng.Start()
	t.Cleanup(eng.Stop)

	h := &Handler{Engine: eng, Encryptor: prefixEncryptor{}, MaxBatch: 10, Timeout: time.Second}
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, eng
}

func postJSON(t *testing.T, url string, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, payload
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsIngestSingleAndBatch(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, payload := postJSON(t, srv.URL+"/metrics",
		`{"metric":"cpu","value":0.5,"timestamp":"2025-03-01T12:00:00Z"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("single ingest status = %d, body %v", resp.StatusCode, payload)
	}
	if payload["accepted"].(float64) != 1 {
		t.Fatalf("accepted = %v, want 1", payload["accepted"])
	}

	resp, payload = postJSON(t, srv.URL+"/metrics",
		`[{"metric":"cpu","value":0.6,"timestamp":"2025-03-01T12:01:00Z"},
		  {"metric":"cpu","value":0.7,"timestamp":"2025-03-01T12:02:00Z"}]`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch ingest status = %d, body %v", resp.StatusCode, payload)
	}
	if payload["accepted"].(float64) != 2 {
		t.Fatalf("accepted = %v, want 2", payload["accepted"])
	}
}

func TestMetricsIngestRejectsInvalid(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, payload := postJSON(t, srv.URL+"/metrics",
		`[{"metric":"cpu","value":0.5,"timestamp":"2025-03-01T12:00:00Z"},
		  {"metric":"","value":1,"timestamp":"2025-03-01T12:01:00Z"}]`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if payload["accepted"].(float64) != 1 {
		t.Fatalf("accepted = %v, want 1", payload["accepted"])
	}
}

func TestMetricsIngestBatchLimit(t *testing.T) {
	srv, _ := newTestServer(t)

	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < 11; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"metric":"cpu","value":1}`)
	}
	sb.WriteString("]")
	resp, _ := postJSON(t, srv.URL+"/metrics", sb.String())
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestVerdictAbstainsWithoutHistory(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, payload := postJSON(t, srv.URL+"/verdict",
		`{"metric":"cpu","value":99,"timestamp":"2025-03-01T12:00:00Z"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, payload)
	}
	verdict := payload["verdict"].(map[string]any)
	if verdict["isAnomaly"].(bool) {
		t.Fatal("expected no anomaly without history")
	}
}

func TestRuleLifecycle(t *testing.T) {
	srv, eng := newTestServer(t)

	body := `{
		"id": "r1",
		"name": "high cpu",
		"severity": "high",
		"condition": {"metric":"cpu","operator":">","threshold":0.9,"windowMinutes":5,"aggregation":"avg"},
		"channels": [{"type":"webhook","settings":{"url":"http://example.test","token":"s3cret"}}]
	}`
	resp, payload := postJSON(t, srv.URL+"/rules", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d, body %v", resp.StatusCode, payload)
	}

	rule, err := eng.GetRule("r1")
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got := rule.Channels[0].Settings["token"]; got != "enc:s3cret" {
		t.Fatalf("token stored as %q, want encrypted", got)
	}
	if got := rule.Channels[0].Settings["url"]; got != "http://example.test" {
		t.Fatalf("url stored as %q, want plain", got)
	}

	getResp, err := http.Get(srv.URL + "/rules/r1")
	if err != nil {
		t.Fatalf("GET rule: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", getResp.StatusCode)
	}

	listResp, err := http.Get(srv.URL + "/rules")
	if err != nil {
		t.Fatalf("GET rules: %v", err)
	}
	var list []rules.Rule
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	listResp.Body.Close()
	if len(list) != 1 || list[0].ID != "r1" {
		t.Fatalf("list = %+v, want one rule r1", list)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/rules/r1", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE rule: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", delResp.StatusCode)
	}
	if _, err := eng.GetRule("r1"); err != rules.ErrUnknownRule {
		t.Fatalf("rule still present after delete: %v", err)
	}
}

func TestRuleCreateValidationError(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, payload := postJSON(t, srv.URL+"/rules", `{"name":"broken"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if payload["code"] != "RULE_SCHEMA_INVALID" {
		t.Fatalf("code = %v, want RULE_SCHEMA_INVALID", payload["code"])
	}
	details, ok := payload["details"].([]any)
	if !ok || len(details) == 0 {
		t.Fatalf("details = %v, want non-empty", payload["details"])
	}
}

func TestRuleGetMissing(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/rules/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAlertHistoryRequiresPersistence(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/rules/r1/alerts")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}
