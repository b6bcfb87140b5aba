package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"metricwatch-backend/internal/crypto"
	"metricwatch-backend/internal/engine"
	"metricwatch-backend/internal/notify"
	"metricwatch-backend/internal/rules"
	"metricwatch-backend/internal/storage"
	"metricwatch-backend/internal/window"
)

type Handler struct {
	Engine    *engine.Engine
	Repo      *storage.Repository // nil when persistence is disabled
	Encryptor crypto.Encryptor
	MaxBatch  int
	Timeout   time.Duration
}

type errorResponse struct {
	Ok      bool                `json:"ok"`
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details []rules.ErrorDetail `json:"details"`
}

type sampleRequest struct {
	Metric    string            `json:"metric"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Context   map[string]string `json:"context"`
}

type verdictRequest struct {
	Metric    string            `json:"metric"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Context   map[string]string `json:"context"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Post("/metrics", h.handleMetricsIngest)
	r.Post("/verdict", h.handleVerdict)
	r.Route("/rules", func(r chi.Router) {
		r.Post("/", h.handleRuleCreate)
		r.Get("/", h.handleRulesList)
		r.Get("/{id}", h.handleRuleGet)
		r.Put("/{id}", h.handleRuleUpdate)
		r.Delete("/{id}", h.handleRuleDelete)
		r.Get("/{id}/alerts", h.handleRuleAlerts)
	})
	r.Post("/alerts/{id}/treated", h.handleAlertTreated)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleMetricsIngest accepts a single sample object or a JSON array of
// samples. A batch is processed in order; the first invalid sample aborts
// the request and reports how many samples were accepted.
func (h *Handler) handleMetricsIngest(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	var samples []sampleRequest
	if isArray(body) {
		if err := decodeBytes(body, &samples); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
			return
		}
	} else {
		var single sampleRequest
		if err := decodeBytes(body, &single); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
			return
		}
		samples = []sampleRequest{single}
	}
	if h.MaxBatch > 0 && len(samples) > h.MaxBatch {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "batch too large"})
		return
	}
	for i, s := range samples {
		ts := s.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if err := h.Engine.Ingest(s.Metric, s.Value, ts, s.Context); err != nil {
			status := http.StatusInternalServerError
			if err == window.ErrInvalidSample {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, map[string]any{"ok": false, "message": err.Error(), "accepted": i})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "accepted": len(samples)})
}

func (h *Handler) handleVerdict(w http.ResponseWriter, r *http.Request) {
	var req verdictRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if req.Metric == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "metric is required"})
		return
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	verdict := h.Engine.Verdict(req.Metric, req.Value, ts, req.Context)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "verdict": verdict})
}

func (h *Handler) handleRuleCreate(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := h.sealSecrets(&rule); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "encryption failed"})
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	if err := h.Engine.AddRule(ctx, rule); err != nil {
		writeRuleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rule_id": rule.ID, "rule": rule})
}

func (h *Handler) handleRulesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.ListRules())
}

func (h *Handler) handleRuleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, err := h.Engine.GetRule(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "rule not found"})
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleRuleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Engine.GetRule(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "rule not found"})
		return
	}
	var rule rules.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	rule.ID = id
	if err := h.sealSecrets(&rule); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "encryption failed"})
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	if err := h.Engine.AddRule(ctx, rule); err != nil {
		writeRuleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rule": rule})
}

func (h *Handler) handleRuleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := h.requestContext(r)
	defer cancel()
	if err := h.Engine.RemoveRule(ctx, id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "rule not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleRuleAlerts(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "message": "alert history requires persistence"})
		return
	}
	id := chi.URLParam(r, "id")
	ctx, cancel := h.requestContext(r)
	defer cancel()
	alerts, err := h.Repo.ListAlertsForRule(ctx, id, 0)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to fetch alerts"})
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) handleAlertTreated(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "message": "alert history requires persistence"})
		return
	}
	id := chi.URLParam(r, "id")
	var req struct {
		Treated bool `json:"treated"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	if err := h.Repo.UpdateAlertTreated(ctx, id, req.Treated); err != nil {
		if err == storage.ErrNotFound {
			writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "alert not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to update alert"})
		return
	}
	if req.Treated {
		h.Engine.CancelEscalation(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// sealSecrets encrypts secret channel settings in place before the rule
// enters the registry and persistence.
func (h *Handler) sealSecrets(rule *rules.Rule) error {
	if h.Encryptor == nil {
		return nil
	}
	for i, ch := range rule.Channels {
		sealed, err := crypto.EncryptSettings(h.Encryptor, ch.Settings, notify.SecretSettingKeys)
		if err != nil {
			return err
		}
		rule.Channels[i].Settings = sealed
	}
	if rule.Escalation != nil {
		for i, ch := range rule.Escalation.Channels {
			sealed, err := crypto.EncryptSettings(h.Encryptor, ch.Settings, notify.SecretSettingKeys)
			if err != nil {
				return err
			}
			rule.Escalation.Channels[i].Settings = sealed
		}
	}
	return nil
}

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

func writeRuleError(w http.ResponseWriter, err error) {
	if vErr, ok := err.(*rules.ValidationError); ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Ok:      false,
			Code:    vErr.Code,
			Message: vErr.Message,
			Details: vErr.Details,
		})
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
}

func readBody(r *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isArray(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

func decodeBytes(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
