package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-hub/shared/pkg/app"
	"notification-hub/shared/pkg/domain"
	"notification-hub/shared/pkg/messaging"
	"notification-hub/shared/pkg/store/memstore"
)

func setupRouter(t *testing.T) (*gin.Engine, *messaging.MemoryPublisher) {
	t.Helper()
	r, _, pub := setup(t)
	return r, pub
}

func setup(t *testing.T) (*gin.Engine, *app.Service, *messaging.MemoryPublisher) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	pub := messaging.NewMemoryPublisher(nil)
	t.Cleanup(func() { _ = pub.Close() })
	svc := app.NewService(memstore.New(nil, nil), pub, messaging.DefaultRouter())
	return NewRouter(NewHandler(svc, nil)), svc, pub
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func emailBody() gin.H {
	return gin.H{
		"recipientAddress": "user@example.com",
		"channel":          "email",
		"subject":          "Hi",
		"body":             "Hello",
		"priority":         "high",
	}
}

func TestHealth(t *testing.T) {
	r, _ := setupRouter(t)
	w := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestSendAndGet(t *testing.T) {
	r, pub := setupRouter(t)

	w := do(t, r, http.MethodPost, "/api/notifications", emailBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[idResponse](t, w).ID
	require.NotEmpty(t, id)
	assert.Len(t, pub.PublishedTo(messaging.QueueEmail), 1)

	w = do(t, r, http.MethodGet, "/api/notifications/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[app.NotificationView](t, w)
	assert.Equal(t, domain.StatusPending, view.Status)
	assert.Equal(t, domain.PriorityHigh, view.Priority)
	assert.Zero(t, view.RetryCount)

	w = do(t, r, http.MethodGet, "/api/notifications/status/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]app.NotificationView](t, w), 1)

	w = do(t, r, http.MethodGet, "/api/notifications?recipient=user@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]app.NotificationView](t, w), 1)

	w = do(t, r, http.MethodGet, "/api/notifications?recipient=USER@Example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]app.NotificationView](t, w), 1)

	w = do(t, r, http.MethodGet, "/api/notifications/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, app.Stats{Pending: 1, Total: 1}, decode[app.Stats](t, w))
}

func TestSend_ErrorMapping(t *testing.T) {
	r, _ := setupRouter(t)
	past := time.Now().Add(-time.Hour)

	cases := []struct {
		name string
		edit func(gin.H)
		code int
		want string
	}{
		{"malformed address", func(b gin.H) { b["recipientAddress"] = "user@@bad" }, http.StatusBadRequest, "invalid_input"},
		{"unknown channel", func(b gin.H) { b["channel"] = "fax" }, http.StatusBadRequest, "unsupported_channel"},
		{"missing subject", func(b gin.H) { delete(b, "subject") }, http.StatusBadRequest, "subject_required"},
		{"past schedule", func(b gin.H) { b["scheduledAt"] = past }, http.StatusBadRequest, "scheduled_in_past"},
		{"missing template", func(b gin.H) { b["templateId"] = "nope" }, http.StatusNotFound, "not_found"},
		{"missing recipient", func(b gin.H) { delete(b, "recipientAddress") }, http.StatusBadRequest, "invalid_json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := emailBody()
			tc.edit(body)
			w := do(t, r, http.MethodPost, "/api/notifications", body)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
			assert.Equal(t, tc.want, decode[errorResponse](t, w).Code)
		})
	}
}

func TestSend_PublishFailureIsAccepted(t *testing.T) {
	r, pub := setupRouter(t)
	pub.FailWith(errors.New("broker down"))

	w := do(t, r, http.MethodPost, "/api/notifications", emailBody())
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode[acceptedResponse](t, w)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "publish_failed", resp.Error.Code)

	w = do(t, r, http.MethodGet, "/api/notifications/"+resp.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.StatusPending, decode[app.NotificationView](t, w).Status)
}

func TestCancelAndRetry(t *testing.T) {
	r, _ := setupRouter(t)
	id := decode[idResponse](t, do(t, r, http.MethodPost, "/api/notifications", emailBody())).ID

	w := do(t, r, http.MethodPost, "/api/notifications/"+id+"/retry", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "retry_not_allowed", decode[errorResponse](t, w).Code)

	w = do(t, r, http.MethodPost, "/api/notifications/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, "/api/notifications/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_transition", decode[errorResponse](t, w).Code)

	w = do(t, r, http.MethodPost, "/api/notifications/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/api/notifications/retryable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]app.NotificationView](t, w))
}

func TestRetry_PublishFailureIsAccepted(t *testing.T) {
	r, svc, pub := setup(t)
	id := decode[idResponse](t, do(t, r, http.MethodPost, "/api/notifications", emailBody())).ID
	require.NoError(t, svc.ApplyStatus(context.Background(), messaging.StatusMessage{
		NotificationID: id,
		Status:         domain.StatusFailed,
		ErrorMessage:   "mailbox full",
	}))

	pub.FailWith(errors.New("broker down"))
	w := do(t, r, http.MethodPost, "/api/notifications/"+id+"/retry", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode[acceptedResponse](t, w)
	assert.Equal(t, id, resp.ID)
	assert.Equal(t, "publish_failed", resp.Error.Code)

	w = do(t, r, http.MethodGet, "/api/notifications/"+id, nil)
	view := decode[app.NotificationView](t, w)
	assert.Equal(t, domain.StatusPending, view.Status)
	assert.Equal(t, 1, view.RetryCount)
}

func TestTemplates(t *testing.T) {
	r, _ := setupRouter(t)
	create := gin.H{
		"name":            "welcome",
		"subjectTemplate": "Hi {{name}}",
		"bodyTemplate":    "Your code is {{code}}",
		"channel":         "email",
	}

	w := do(t, r, http.MethodPost, "/api/templates", create)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[idResponse](t, w).ID

	w = do(t, r, http.MethodPost, "/api/templates", create)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodGet, "/api/templates/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"name", "code"}, decode[app.TemplateView](t, w).RequiredVariables)

	send := emailBody()
	send["templateId"] = id
	send["variables"] = gin.H{"name": "Ann"}
	w = do(t, r, http.MethodPost, "/api/notifications", send)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_variables", decode[errorResponse](t, w).Code)

	send["variables"] = gin.H{"name": "Ann", "code": "42"}
	w = do(t, r, http.MethodPost, "/api/notifications", send)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodPut, "/api/templates/"+id, gin.H{"name": "welcome-v2", "bodyTemplate": "Hello {{name}}"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, "/api/templates/"+id+"/deactivate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodGet, "/api/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]app.TemplateView](t, w))

	w = do(t, r, http.MethodPost, "/api/templates/"+id+"/activate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodGet, "/api/templates", nil)
	active := decode[[]app.TemplateView](t, w)
	require.Len(t, active, 1)
	assert.Equal(t, "welcome-v2", active[0].Name)

	w = do(t, r, http.MethodGet, "/api/templates/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(app.KindValidation))
	assert.Equal(t, http.StatusBadRequest, statusFor(app.KindUnsupportedChannel))
	assert.Equal(t, http.StatusNotFound, statusFor(app.KindNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(app.KindConflict))
	assert.Equal(t, http.StatusInternalServerError, statusFor(app.KindFailure))
}
