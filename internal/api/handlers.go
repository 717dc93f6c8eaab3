package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"msgblast/internal/auth"
	"msgblast/internal/config"
	"msgblast/internal/dispatch"
	"msgblast/internal/recipient"
	"msgblast/internal/sender"
	"msgblast/internal/sender/whatsapp"
	"msgblast/internal/storage"
	"msgblast/pkg/logx"
)

// ---- auth ----

func (s *Server) handleSignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	uid, err := s.auth.SignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, auth.ErrEmailTaken) {
			status = http.StatusConflict
		}
		c.JSON(status, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully", "userId": uid})
}

func (s *Server) handleSignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	token, uid, err := s.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: "User not found"})
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "Invalid credentials"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Sign In Successful", "userId": uid, "token": token})
}

// ---- whatsapp session ----

func (s *Server) handleInitWhatsApp(c *gin.Context) {
	if s.waSession == nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "whatsapp channel not configured"})
		return
	}
	state, err := s.waSession.Initialize(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  state.String(),
		"message": "Please authorize WhatsApp Web to continue",
	})
}

func (s *Server) handleCheckWhatsAppAuth(c *gin.Context) {
	if s.waSession == nil || s.waSession.State() == whatsapp.Uninitialized {
		c.JSON(http.StatusOK, gin.H{"success": false, "status": "NOT_INITIALIZED"})
		return
	}
	state, err := s.waSession.CheckAuthorization(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": state.String()})
}

// ---- bulk send ----

func (s *Server) handleSendBulkWhatsApp(c *gin.Context) {
	if s.waSender == nil || s.waSession == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "whatsapp channel not configured"})
		return
	}
	// Idempotent: brings the session up if nobody called init-whatsapp.
	// Records still fail fast until pairing completes.
	_, _ = s.waSession.Initialize(c.Request.Context())

	// The page is a single shared mutable resource; dispatch sequentially.
	opts := s.engineOptions()
	opts.Workers = 1
	opts.RatePerSec = 0

	s.dispatchUpload(c, s.waSender, opts, nil)
}

func (s *Server) handleSendBulkSMS(c *gin.Context) {
	if s.smsSender == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "sms channel not configured"})
		return
	}
	s.dispatchUpload(c, s.smsSender, s.engineOptions(), nil)
}

func (s *Server) handleSendBulkEmail(c *gin.Context) {
	creds := sender.Credentials{
		Email:    c.PostForm("senderEmail"),
		Password: c.PostForm("senderPassword"),
	}
	cfg := s.config()
	snd, err := sender.NewEmail(sender.EmailConfig{
		Host: cfg.Email.Host,
		Port: cfg.Email.Port,
	}, creds)
	if err != nil {
		// Transport open / auth failure: batch precondition, zero records attempted.
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.dispatchUpload(c, snd, s.engineOptions(), func() { _ = snd.Close() })
}

// dispatchUpload is the shared path: pull the CSV out of the multipart form,
// parse it, run the engine, record the summary, and answer the caller.
func (s *Server) dispatchUpload(c *gin.Context, snd sender.Sender, opts dispatch.Options, cleanup func()) {
	if cleanup != nil {
		defer cleanup()
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "no file uploaded"})
		return
	}

	// Spool to the upload dir so the parser gets an on-disk source; the
	// file is removed as soon as the batch is done.
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	tmpPath := filepath.Join(s.uploadDir, uuid.NewString()+".csv")
	if err := c.SaveUploadedFile(fh, tmpPath); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	defer os.Remove(tmpPath)

	records, err := recipient.ParseFile(tmpPath)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	policy := dispatch.Policy{
		UseSharedMessage: parseFormBool(c.PostForm("useSameMessage")),
		SharedMessage:    c.PostForm("message"),
	}

	engine := dispatch.New(opts, s.log)
	res, err := engine.Dispatch(c.Request.Context(), records, policy, snd)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	recorded := s.recordAttempt(c, userID(c), res)

	resp := dispatchResponse{
		Success:        true,
		TotalProcessed: res.TotalProcessed,
		SuccessCount:   res.SuccessCount,
		ErrorCount:     res.FailureCount,
		Results:        make([]recordResult, 0, res.SuccessCount),
		Errors:         make([]recordError, 0, res.FailureCount),
		Recorded:       recorded,
	}
	for _, addr := range res.Successes {
		resp.Results = append(resp.Results, recordResult{Address: addr, Status: "success"})
	}
	for _, f := range res.Failures {
		resp.Errors = append(resp.Errors, recordError{Address: f.Address, Error: f.Reason})
	}
	c.JSON(http.StatusOK, resp)
}

// recordAttempt persists the batch tally. Failure here is surfaced but
// never voids the dispatch result.
func (s *Server) recordAttempt(c *gin.Context, uid string, res *dispatch.BatchResult) bool {
	if s.store == nil {
		return false
	}
	err := s.store.SaveAttempt(c.Request.Context(), storage.AttemptSummary{
		ID:            res.ID,
		UserID:        uid,
		Channel:       string(res.Channel),
		Timestamp:     res.FinishedAt,
		TotalAttempts: res.TotalProcessed,
		SuccessCount:  res.SuccessCount,
		FailureCount:  res.FailureCount,
	})
	if err != nil {
		s.log.Error("attempt summary not recorded",
			logx.String("batch", res.ID), logx.String("user", uid), logx.Err(err))
		return false
	}
	return true
}

func (s *Server) config() *config.Config {
	if s.cfgFn != nil {
		if cfg := s.cfgFn(); cfg != nil {
			return cfg
		}
	}
	return &config.Config{}
}

func (s *Server) engineOptions() dispatch.Options {
	cfg := s.config()
	workers := cfg.Dispatch.Workers
	if workers <= 0 {
		workers = 4
	}
	rps := cfg.Dispatch.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	timeout, _ := config.ParseDurationField("dispatch.per_send_timeout", cfg.Dispatch.PerSendTimeout)
	return dispatch.Options{Workers: workers, RatePerSec: rps, PerSendTimeout: timeout}
}

// parseFormBool normalizes the multipart form representation of
// useSameMessage: the old frontend sends the string "true".
func parseFormBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
