package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwise/enrollflow/internal/enrollment/application"
	"github.com/gridwise/enrollflow/internal/enrollment/crypto"
	"github.com/gridwise/enrollflow/internal/enrollment/domain"
	"github.com/gridwise/enrollflow/internal/enrollment/infrastructure/apiclient"
	"github.com/gridwise/enrollflow/internal/enrollment/infrastructure/mailer"
)

type stubInstanceRepo struct {
	inst *domain.FormInstance
}

func (r *stubInstanceRepo) Create(ctx context.Context, inst *domain.FormInstance) (uint, error) {
	return 0, nil
}

func (r *stubInstanceRepo) Update(ctx context.Context, id uint, upd domain.InstanceUpdate) error {
	return nil
}

func (r *stubInstanceRepo) Get(ctx context.Context, id uint) (*domain.FormInstance, error) {
	return r.inst, nil
}

func (r *stubInstanceRepo) GetBySlug(ctx context.Context, slug string, activeOnly bool) (*domain.FormInstance, error) {
	if r.inst != nil && r.inst.Slug == slug {
		return r.inst, nil
	}
	return nil, nil
}

func (r *stubInstanceRepo) GetByUtility(ctx context.Context, utility string) (*domain.FormInstance, error) {
	return r.inst, nil
}

// stubStore holds submissions by session id and counts mutations so tests can
// assert that rejected requests caused no writes.
type stubStore struct {
	nextID      uint
	bySession   map[string]*domain.Submission
	updateCalls int
}

func newStubStore() *stubStore {
	return &stubStore{nextID: 1, bySession: map[string]*domain.Submission{}}
}

func (s *stubStore) CreateSubmission(ctx context.Context, sub *domain.Submission) (uint, error) {
	id := s.nextID
	s.nextID++
	sub.ID = id
	copied := *sub
	s.bySession[sub.SessionID] = &copied
	return id, nil
}

func (s *stubStore) GetSubmission(ctx context.Context, id uint) (*domain.Submission, error) {
	for _, sub := range s.bySession {
		if sub.ID == id {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *stubStore) GetSubmissionBySession(ctx context.Context, sessionID string, instanceID uint) (*domain.Submission, error) {
	sub, ok := s.bySession[sessionID]
	if !ok || sub.InstanceID != instanceID {
		return nil, nil
	}
	copied := *sub
	copied.FormData = domain.FormData{}.Merge(sub.FormData)
	return &copied, nil
}

func (s *stubStore) UpdateSubmission(ctx context.Context, id uint, upd domain.SubmissionUpdate) error {
	s.updateCalls++
	for _, sub := range s.bySession {
		if sub.ID != id {
			continue
		}
		if upd.FormData != nil {
			sub.FormData = sub.FormData.Merge(upd.FormData)
		}
		if upd.Step != nil {
			sub.Step = *upd.Step
		}
		if upd.Status != nil {
			sub.Status = *upd.Status
		}
	}
	return nil
}

func (s *stubStore) ListSubmissions(ctx context.Context, filter domain.SubmissionFilter, limit, offset int) ([]*domain.Submission, int64, error) {
	return nil, 0, nil
}

func (s *stubStore) MarkSessionAsTest(ctx context.Context, sessionID string, instanceID uint) error {
	return nil
}

func (s *stubStore) SaveResumeToken(ctx context.Context, token *domain.ResumeToken) error {
	return nil
}

func (s *stubStore) GetResumeToken(ctx context.Context, token string, instanceID uint) (*domain.ResumeToken, error) {
	return nil, domain.ErrInvalidToken
}

func (s *stubStore) MarkResumeTokenUsed(ctx context.Context, token string) error { return nil }

func (s *stubStore) AddToRetryQueue(ctx context.Context, submissionID, instanceID uint, errorMessage string) error {
	return nil
}

func (s *stubStore) PendingRetries(ctx context.Context, limit int) ([]*domain.RetryQueueEntry, error) {
	return nil, nil
}

func (s *stubStore) UpdateRetryEntry(ctx context.Context, id uint, status string, attempts int) error {
	return nil
}

func (s *stubStore) RecordStepEvent(ctx context.Context, ev *domain.StepEvent) error { return nil }

func (s *stubStore) Log(ctx context.Context, level domain.LogLevel, message string, logCtx map[string]any, instanceID, submissionID uint) {
}

type stubDispatcher struct{}

func (stubDispatcher) Trigger(ctx context.Context, name string, data map[string]any, instanceID uint) {
}

func newTestRouter(t *testing.T) (*gin.Engine, *application.Orchestrator, *stubStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	inst := &domain.FormInstance{
		ID:       1,
		Slug:     "nj-cooling",
		FormType: domain.FormTypeEnrollment,
		IsActive: true,
		Settings: domain.InstanceSettings{DemoMode: true},
	}
	store := newStubStore()
	demo := apiclient.NewDemoClient()
	factory := func(inst *domain.FormInstance) domain.ProgramAPIClient { return demo }
	enc, _ := crypto.New("handler-test-key")

	orch := application.NewOrchestrator(
		&stubInstanceRepo{inst: inst}, store, factory, stubDispatcher{},
		mailer.NoopMailer{}, enc, nil, nil, "https://example.com/resume")

	router := gin.New()
	NewFormHandler(orch).RegisterRoutes(router)
	return router, orch, store
}

func postJSON(router *gin.Engine, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestLoadStepIssuesSessionAndToken(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := postJSON(router, "/api/v1/forms/nj-cooling/load_step", gin.H{"step": "1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.NotEmpty(t, data["session_id"])
	assert.NotEmpty(t, data["form_token"])
}

func TestUnknownSlugIsNotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := postJSON(router, "/api/v1/forms/no-such-form/load_step", gin.H{"step": "1"}, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["message"])
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/forms/nj-cooling/load_step", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMutatingActionRequiresFormToken(t *testing.T) {
	router, _, store := newTestRouter(t)

	// Establish a session first.
	w := postJSON(router, "/api/v1/forms/nj-cooling/load_step", gin.H{"step": "1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	sessionID := data["session_id"].(string)
	writesAfterLoad := store.updateCalls

	t.Run("missing token is rejected before any write", func(t *testing.T) {
		w := postJSON(router, "/api/v1/forms/nj-cooling/save_progress", gin.H{
			"session_id": sessionID,
			"step":       "2",
			"form_data":  gin.H{"first_name": "Pat"},
		}, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, writesAfterLoad, store.updateCalls)
	})

	t.Run("forged token is rejected", func(t *testing.T) {
		w := postJSON(router, "/api/v1/forms/nj-cooling/save_progress", gin.H{
			"session_id": sessionID,
			"step":       "2",
		}, map[string]string{"X-Form-Token": "deadbeef"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("issued token is accepted", func(t *testing.T) {
		w := postJSON(router, "/api/v1/forms/nj-cooling/save_progress", gin.H{
			"session_id": sessionID,
			"step":       "2",
			"form_data":  gin.H{"first_name": "Pat"},
		}, map[string]string{"X-Form-Token": data["form_token"].(string)})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Greater(t, store.updateCalls, writesAfterLoad)
	})
}

func TestValidateAccountThroughDemoClient(t *testing.T) {
	router, orch, _ := newTestRouter(t)

	w := postJSON(router, "/api/v1/forms/nj-cooling/load_step", gin.H{"step": "1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	sessionID := data["session_id"].(string)
	token := orch.FormToken(sessionID)

	w = postJSON(router, "/api/v1/forms/nj-cooling/validate_account", gin.H{
		"session_id":     sessionID,
		"account_number": "1234567890",
		"zip":            "08601",
	}, map[string]string{"X-Form-Token": token})
	require.Equal(t, http.StatusOK, w.Code)

	result := decodeBody(t, w)["data"].(map[string]any)
	assert.Equal(t, "Jordan", result["first_name"])
	assert.Equal(t, "Sample", result["last_name"])
}

func TestValidateAccountRejectionIsBadRequest(t *testing.T) {
	router, orch, _ := newTestRouter(t)

	w := postJSON(router, "/api/v1/forms/nj-cooling/load_step", gin.H{"step": "1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	sessionID := data["session_id"].(string)

	w = postJSON(router, "/api/v1/forms/nj-cooling/validate_account", gin.H{
		"session_id":     sessionID,
		"account_number": "1234567800",
		"zip":            "08601",
	}, map[string]string{"X-Form-Token": orch.FormToken(sessionID)})
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["message"])
}

func TestResumeWithInvalidToken(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := postJSON(router, "/api/v1/forms/nj-cooling/resume_form", gin.H{"token": "bogus"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
}

func TestGetPromoCodesEnvelope(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := postJSON(router, "/api/v1/forms/nj-cooling/get_promo_codes", gin.H{}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	assert.NotEmpty(t, data["promo_codes"])
}
