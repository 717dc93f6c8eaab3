package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"msgblast/internal/auth"
	"msgblast/internal/config"
	"msgblast/internal/sender"
	"msgblast/internal/storage"
	"msgblast/pkg/logx"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubSender fails the addresses listed in failWith and succeeds otherwise.
type stubSender struct {
	channel  sender.Channel
	failWith map[string]error

	mu   sync.Mutex
	sent []sender.Message
}

func (s *stubSender) Channel() sender.Channel { return s.channel }

func (s *stubSender) DeliverOne(ctx context.Context, msg sender.Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	if err, ok := s.failWith[msg.Address]; ok {
		return err
	}
	return nil
}

type testServer struct {
	router *gin.Engine
	auth   *auth.Service
	store  storage.Store
	sms    *stubSender
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "api.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	au, err := auth.New(auth.Config{JWTSecret: "api-test"}, st)
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}

	sms := &stubSender{channel: sender.ChannelSMS}
	srv := NewServer(Deps{
		Log:       logx.Nop(),
		ConfigFn:  func() *config.Config { return &config.Config{} },
		Auth:      au,
		Store:     st,
		SMSSender: sms,
		UploadDir: filepath.Join(dir, "uploads"),
	})
	return &testServer{router: srv.Router(), auth: au, store: st, sms: sms}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) signUpAndIn(t *testing.T, email, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/auth/signup", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if w := ts.do(req); w.Code != http.StatusCreated {
		t.Fatalf("signup: status %d: %s", w.Code, w.Body)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/signin", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := ts.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("signin: status %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("signin response: %s (%v)", w.Body, err)
	}
	return resp.Token
}

// csvUpload builds a multipart request carrying one CSV file plus extra fields.
func csvUpload(t *testing.T, target, token, csv string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "batch.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(csv)); err != nil {
		t.Fatal(err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestSignUpDuplicateConflict(t *testing.T) {
	ts := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"email": "a@x.io", "password": "pw"})

	req := httptest.NewRequest(http.MethodPost, "/auth/signup", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if w := ts.do(req); w.Code != http.StatusCreated {
		t.Fatalf("first signup: %d", w.Code)
	}
	req = httptest.NewRequest(http.MethodPost, "/auth/signup", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if w := ts.do(req); w.Code != http.StatusConflict {
		t.Fatalf("duplicate signup: %d, want 409", w.Code)
	}
}

func TestSignInFailures(t *testing.T) {
	ts := newTestServer(t)
	ts.signUpAndIn(t, "a@x.io", "right")

	body, _ := json.Marshal(map[string]string{"email": "a@x.io", "password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if w := ts.do(req); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: %d, want 401", w.Code)
	}

	body, _ = json.Marshal(map[string]string{"email": "ghost@x.io", "password": "x"})
	req = httptest.NewRequest(http.MethodPost, "/auth/signin", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if w := ts.do(req); w.Code != http.StatusNotFound {
		t.Fatalf("unknown user: %d, want 404", w.Code)
	}
}

func TestMessagingRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	req := csvUpload(t, "/messaging/send-bulk-sms", "", "phoneNumber,message\n+1,hi\n", nil)
	if w := ts.do(req); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d, want 401", w.Code)
	}

	req = csvUpload(t, "/messaging/send-bulk-sms", "garbage", "phoneNumber,message\n+1,hi\n", nil)
	if w := ts.do(req); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d, want 401", w.Code)
	}
}

func TestSendBulkSMS(t *testing.T) {
	ts := newTestServer(t)
	ts.sms.failWith = map[string]error{"+15550002": errors.New("undeliverable")}
	token := ts.signUpAndIn(t, "a@x.io", "pw")

	csv := "phoneNumber,message\n+15550001,hello one\n+15550002,hello two\n+15550003,hello three\n"
	w := ts.do(csvUpload(t, "/messaging/send-bulk-sms", token, csv, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}

	var resp dispatchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response: %s (%v)", w.Body, err)
	}
	if !resp.Success || resp.TotalProcessed != 3 || resp.SuccessCount != 2 || resp.ErrorCount != 1 {
		t.Fatalf("tally = %+v", resp)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Address != "+15550002" || resp.Errors[0].Error != "undeliverable" {
		t.Fatalf("errors = %+v", resp.Errors)
	}
	if !resp.Recorded {
		t.Fatal("attempt summary must be recorded when storage is enabled")
	}
}

func TestSendBulkSMSSharedMessage(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUpAndIn(t, "a@x.io", "pw")

	csv := "phoneNumber,message\n+1,own one\n+2,own two\n"
	fields := map[string]string{"useSameMessage": "true", "message": "broadcast"}
	w := ts.do(csvUpload(t, "/messaging/send-bulk-sms", token, csv, fields))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	ts.sms.mu.Lock()
	defer ts.sms.mu.Unlock()
	for _, m := range ts.sms.sent {
		if m.Body != "broadcast" {
			t.Fatalf("body = %q, want the shared message", m.Body)
		}
	}
}

func TestSendBulkSMSPreconditions(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUpAndIn(t, "a@x.io", "pw")

	// No file part at all.
	req := httptest.NewRequest(http.MethodPost, "/messaging/send-bulk-sms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if w := ts.do(req); w.Code != http.StatusBadRequest {
		t.Fatalf("no file: %d, want 400", w.Code)
	}

	// Header-only CSV: zero records.
	w := ts.do(csvUpload(t, "/messaging/send-bulk-sms", token, "phoneNumber,message\n", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty batch: %d, want 400", w.Code)
	}

	// Shared-message mode without a message.
	csv := "phoneNumber,message\n+1,hi\n"
	fields := map[string]string{"useSameMessage": "true"}
	if w := ts.do(csvUpload(t, "/messaging/send-bulk-sms", token, csv, fields)); w.Code != http.StatusBadRequest {
		t.Fatalf("blank shared message: %d, want 400", w.Code)
	}

	// Malformed CSV (no recognizable address column).
	if w := ts.do(csvUpload(t, "/messaging/send-bulk-sms", token, "name,message\nAna,hi\n", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("bad header: %d, want 400", w.Code)
	}
	if ts.sms.sent != nil {
		t.Fatalf("precondition failures must not send, got %v", ts.sms.sent)
	}
}

func TestSendBulkSMSNotConfigured(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUpAndIn(t, "a@x.io", "pw")

	// Rebuild the router without an SMS sender.
	srv := NewServer(Deps{Auth: ts.auth, Store: ts.store, UploadDir: t.TempDir()})
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, csvUpload(t, "/messaging/send-bulk-sms", token, "phoneNumber,message\n+1,hi\n", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestCheckWhatsAppAuthNotInitialized(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUpAndIn(t, "a@x.io", "pw")

	req := httptest.NewRequest(http.MethodGet, "/messaging/check-whatsapp-auth", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := ts.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "NOT_INITIALIZED" || resp["success"] != false {
		t.Fatalf("response = %v", resp)
	}
}

func TestDashboard(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUpAndIn(t, "a@x.io", "pw")

	// Empty history first: lists must be [] rather than null.
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := ts.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	body := w.Body.String()
	for _, key := range []string{`"byType":[]`, `"today":[]`, `"recent":[]`} {
		if !strings.Contains(body, key) {
			t.Fatalf("empty dashboard missing %s: %s", key, body)
		}
	}

	// One batch later the totals show up.
	csv := "phoneNumber,message\n+1,hi\n+2,yo\n"
	if w := ts.do(csvUpload(t, "/messaging/send-bulk-sms", token, csv, nil)); w.Code != http.StatusOK {
		t.Fatalf("dispatch: %d: %s", w.Code, w.Body)
	}

	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = ts.do(req)
	var resp struct {
		Overall storage.Totals         `json:"overall"`
		ByType  []storage.ChannelStats `json:"byType"`
		Recent  []json.RawMessage      `json:"recent"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("dashboard response: %s (%v)", w.Body, err)
	}
	if resp.Overall.TotalAttempts != 2 || resp.Overall.TotalSuccess != 2 {
		t.Fatalf("overall = %+v", resp.Overall)
	}
	if len(resp.ByType) != 1 || resp.ByType[0].Channel != "sms" {
		t.Fatalf("byType = %+v", resp.ByType)
	}
	if len(resp.Recent) != 1 {
		t.Fatalf("recent = %d entries, want 1", len(resp.Recent))
	}
}

func TestParseFormBool(t *testing.T) {
	for _, v := range []string{"true", "TRUE", " 1 ", "yes", "on"} {
		if !parseFormBool(v) {
			t.Fatalf("parseFormBool(%q) = false", v)
		}
	}
	for _, v := range []string{"", "false", "0", "off", "nope"} {
		if parseFormBool(v) {
			t.Fatalf("parseFormBool(%q) = true", v)
		}
	}
}
