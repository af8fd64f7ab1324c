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
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"innovacollab/internal/config"
	"innovacollab/internal/middleware"
	"innovacollab/internal/model"
	"innovacollab/internal/service"
	"innovacollab/pkg/log"
)

func init() {
	gin.SetMode(gin.TestMode)
	log.InitNop()
}

// withContext 模拟认证与浏览器会话中间件。
func withContext(user *model.User, sessionKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user != nil {
			c.Set(middleware.ContextUserKey, user)
		}
		c.Set(middleware.ContextSessionKey, sessionKey)
		c.Next()
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

type fakeChatService struct {
	service.ChatService
	reply    string
	summary  *service.SummaryResult
	err      error
	lastUser *model.User
	lastReq  service.ChatRequest
}

func (f *fakeChatService) Send(_ context.Context, user *model.User, req service.ChatRequest) (string, error) {
	f.lastUser, f.lastReq = user, req
	return f.reply, f.err
}

func (f *fakeChatService) Summarize(_ context.Context, user *model.User, req service.ChatRequest) (*service.SummaryResult, error) {
	f.lastUser, f.lastReq = user, req
	return f.summary, f.err
}

func newChatRouter(chat service.ChatService, user *model.User) *gin.Engine {
	h := NewChatHandler(chat, nil, nil, nil, 0)
	r := gin.New()
	r.POST("/api/v1/chat", withContext(user, "sid"), h.Chat)
	return r
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChat_ReturnsResponse(t *testing.T) {
	chat := &fakeChatService{reply: "Recursion is..."}
	r := newChatRouter(chat, nil)

	w := postJSON(r, "/api/v1/chat", `{"session_id":"s1","message":"what is recursion?","room_id":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"response": "Recursion is..."}, decode(t, w))
	assert.Nil(t, chat.lastUser)
	assert.Equal(t, uint(3), chat.lastReq.RoomID)
}

func TestChat_Summary(t *testing.T) {
	chat := &fakeChatService{summary: &service.SummaryResult{Summary: "- points", SessionID: "s1", CanSave: true}}
	r := newChatRouter(chat, &model.User{ID: 1})

	w := postJSON(r, "/api/v1/chat", `{"session_id":"s1","is_summary":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "- points", body["summary"])
	assert.Equal(t, "s1", body["session_id"])
	assert.Equal(t, true, body["can_save"])
	assert.Equal(t, uint(1), chat.lastUser.ID)
}

func TestChat_Errors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		body   string
		status int
	}{
		{"empty history", service.ErrEmptyHistory, `{"session_id":"s1","is_summary":true}`, http.StatusBadRequest},
		{"validation", fmt.Errorf("%w: missing message", service.ErrValidation), `{"session_id":"s1"}`, http.StatusBadRequest},
		{"llm down", fmt.Errorf("%w: upstream 503", service.ErrExternalService), `{"session_id":"s1","message":"hi"}`, http.StatusBadGateway},
		{"busy", fmt.Errorf("%w: session busy", service.ErrConflict), `{"session_id":"s1","message":"hi"}`, http.StatusConflict},
		{"premium", fmt.Errorf("%w: premium access required", service.ErrPermissionDenied), `{"session_id":"s1","message":"hi","room_id":3}`, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newChatRouter(&fakeChatService{err: tc.err}, nil)
			w := postJSON(r, "/api/v1/chat", tc.body)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.err.Error(), decode(t, w)["error"])
		})
	}
}

func TestChat_InvalidJSON(t *testing.T) {
	r := newChatRouter(&fakeChatService{}, nil)
	w := postJSON(r, "/api/v1/chat", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid JSON", decode(t, w)["error"])
}

type fakeMaterialService struct {
	service.MaterialService
	file    *service.MaterialFile
	err     error
	created bool
}

func (f *fakeMaterialService) Create(_ context.Context, _ *model.User, _ uint, req service.MaterialRequest, _ *service.Upload) (*model.StudyMaterial, error) {
	f.created = true
	return &model.StudyMaterial{Title: req.Title}, f.err
}

func (f *fakeMaterialService) OpenFile(_ context.Context, _ *model.User, _, _ uint) (*service.MaterialFile, error) {
	return f.file, f.err
}

func newMaterialRouter(svc service.MaterialService) *gin.Engine {
	h := NewMaterialHandler(svc, 1024)
	r := gin.New()
	g := r.Group("/api/v1/rooms/:id/materials/:mid", withContext(&model.User{ID: 1}, "sid"))
	g.GET("/serve", h.Serve)
	g.GET("/download", h.Download)
	r.POST("/api/v1/rooms/:id/materials", withContext(&model.User{ID: 1}, "sid"), h.Create)
	return r
}

func pdfFile() *service.MaterialFile {
	return &service.MaterialFile{
		Body:        io.NopCloser(strings.NewReader("%PDF-1.4")),
		Size:        8,
		ContentType: "application/pdf",
		FileName:    "deck.pdf",
	}
}

func TestServe_SetsFramingHeaders(t *testing.T) {
	r := newMaterialRouter(&fakeMaterialService{file: pdfFile()})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/3/materials/7/serve", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4", w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "inline; filename=deck.pdf", w.Header().Get("Content-Disposition"))
	assert.Equal(t, "SAMEORIGIN", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "frame-ancestors 'self'", w.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", w.Header().Get("Pragma"))
	assert.Equal(t, "0", w.Header().Get("Expires"))
}

func TestDownload_IsAttachment(t *testing.T) {
	r := newMaterialRouter(&fakeMaterialService{file: pdfFile()})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/3/materials/7/download", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "attachment; filename=deck.pdf", w.Header().Get("Content-Disposition"))
	assert.Empty(t, w.Header().Get("X-Frame-Options"))
}

func TestServe_DeniedAndBadID(t *testing.T) {
	r := newMaterialRouter(&fakeMaterialService{err: fmt.Errorf("%w: this material requires premium access", service.ErrPermissionDenied)})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/3/materials/7/serve", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, float64(http.StatusForbidden), decode(t, w)["code"])
	assert.Empty(t, w.Header().Get("Content-Disposition"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/3/materials/abc/serve", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type fakePaymentService struct {
	service.PaymentService
	roomID     uint
	err        error
	sessionKey string
	query      url.Values
}

func (f *fakePaymentService) Complete(_ context.Context, sessionKey string, query url.Values) (uint, error) {
	f.sessionKey, f.query = sessionKey, query
	return f.roomID, f.err
}

func (f *fakePaymentService) Fail(_ context.Context, sessionKey string) (uint, error) {
	f.sessionKey = sessionKey
	return f.roomID, f.err
}

func newPaymentRouter(svc service.PaymentService) *gin.Engine {
	h := NewPaymentHandler(svc, config.PaymentConfig{
		FrontendSuccessURL: "https://front.test/payment/done",
		FrontendFailureURL: "https://front.test/payment/failed",
	})
	r := gin.New()
	g := r.Group("/payment", withContext(nil, "sid-42"))
	g.GET("/success", h.Success)
	g.GET("/failure", h.Failure)
	return r
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestPaymentSuccess_RedirectsToRoom(t *testing.T) {
	svc := &fakePaymentService{roomID: 3}
	w := get(newPaymentRouter(svc), "/payment/success?data=abc")

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://front.test/payment/done?room_id=3&status=success", w.Header().Get("Location"))
	assert.Equal(t, "sid-42", svc.sessionKey)
	assert.Equal(t, "abc", svc.query.Get("data"))
}

func TestPaymentSuccess_FailuresRedirectToFailurePage(t *testing.T) {
	cases := []struct {
		name     string
		roomID   uint
		err      error
		location string
	}{
		{"mismatch", 3, fmt.Errorf("%w: amount", service.ErrVerificationMismatch), "https://front.test/payment/failed?room_id=3&status=verification_failed"},
		{"expired", 0, service.ErrSessionExpired, "https://front.test/payment/failed?status=expired"},
		{"internal", 3, fmt.Errorf("db down"), "https://front.test/payment/failed?room_id=3&status=error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := get(newPaymentRouter(&fakePaymentService{roomID: tc.roomID, err: tc.err}), "/payment/success?oid=x&amt=1&refId=r")
			assert.Equal(t, http.StatusFound, w.Code)
			assert.Equal(t, tc.location, w.Header().Get("Location"))
		})
	}
}

func TestPaymentFailure_DropsSession(t *testing.T) {
	svc := &fakePaymentService{roomID: 3}
	w := get(newPaymentRouter(svc), "/payment/failure")

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://front.test/payment/failed?room_id=3&status=failed", w.Header().Get("Location"))
	assert.Equal(t, "sid-42", svc.sessionKey)
}

type fakeReaderService struct {
	got service.Upload
}

func (f *fakeReaderService) Extract(_ context.Context, file service.Upload) (*service.ReadAloudResult, error) {
	f.got = file
	return &service.ReadAloudResult{Text: "hello", FileName: file.FileName, FileSize: file.Size, CharacterCount: 5}, nil
}

func TestReadFile(t *testing.T) {
	reader := &fakeReaderService{}
	h := NewChatHandler(&fakeChatService{}, reader, nil, nil, 1024)
	r := gin.New()
	r.POST("/api/v1/chat/read-file", withContext(&model.User{ID: 1}, "sid"), h.ReadFile)

	var buf bytes.Buffer
	mw := newMultipart(t, &buf, "notes.txt", "hello")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/read-file", &buf)
	req.Header.Set("Content-Type", mw)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "hello", body["text"])
	assert.Equal(t, "notes.txt", body["filename"])
	assert.Equal(t, float64(5), body["character_count"])
	assert.Equal(t, "notes.txt", reader.got.FileName)

	w = postJSON(r, "/api/v1/chat/read-file", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadFile_RejectsOversizedBody(t *testing.T) {
	reader := &fakeReaderService{}
	h := NewChatHandler(&fakeChatService{}, reader, nil, nil, 1024)
	r := gin.New()
	r.POST("/api/v1/chat/read-file", withContext(&model.User{ID: 1}, "sid"), h.ReadFile)

	var buf bytes.Buffer
	mw := newMultipart(t, &buf, "huge.txt", strings.Repeat("a", 2*formOverhead))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/read-file", &buf)
	req.Header.Set("Content-Type", mw)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, reader.got.FileName)
}

func TestCreateMaterial_RejectsOversizedBody(t *testing.T) {
	svc := &fakeMaterialService{}
	r := newMaterialRouter(svc)

	var buf bytes.Buffer
	mw := newMultipart(t, &buf, "huge.pdf", strings.Repeat("a", 2*formOverhead))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rooms/3/materials", &buf)
	req.Header.Set("Content-Type", mw)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, svc.created)

	// 未超限的表单照常交给 service
	buf.Reset()
	mw = newMultipart(t, &buf, "small.pdf", "%PDF-1.4")
	req = httptest.NewRequest(http.MethodPost, "/api/v1/rooms/3/materials", &buf)
	req.Header.Set("Content-Type", mw)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, svc.created)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusOf(fmt.Errorf("room 1: %w", service.ErrNotFound)))
	assert.Equal(t, http.StatusUnauthorized, statusOf(service.ErrUnauthorized))
	assert.Equal(t, http.StatusInternalServerError, statusOf(fmt.Errorf("boom")))
	assert.Equal(t, "服务器内部错误", messageOf(http.StatusInternalServerError, fmt.Errorf("dsn leaked")))
}

// newMultipart 写入只含 file 字段的表单，返回 Content-Type。
func newMultipart(t *testing.T, buf *bytes.Buffer, name, content string) string {
	t.Helper()
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return mw.FormDataContentType()
}
