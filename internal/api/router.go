// Package api exposes the HTTP surface: auth, bulk messaging, dashboard.
package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"msgblast/internal/auth"
	"msgblast/internal/config"
	"msgblast/internal/sender"
	"msgblast/internal/sender/whatsapp"
	"msgblast/internal/storage"
	"msgblast/pkg/logx"
)

// Server holds the wired collaborators for all handlers.
type Server struct {
	log   logx.Logger
	cfgFn func() *config.Config // live config (hot-reloaded)

	auth  *auth.Service
	store storage.Store // may be nil (storage disabled)

	smsSender sender.Sender // may be nil (sms not configured)
	waSession *whatsapp.Session
	waSender  sender.Sender

	uploadDir string
}

type Deps struct {
	Log       logx.Logger
	ConfigFn  func() *config.Config
	Auth      *auth.Service
	Store     storage.Store
	SMSSender sender.Sender
	WASession *whatsapp.Session
	WASender  sender.Sender
	UploadDir string
}

func NewServer(d Deps) *Server {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.UploadDir == "" {
		d.UploadDir = "./uploads"
	}
	return &Server{
		log:       d.Log,
		cfgFn:     d.ConfigFn,
		auth:      d.Auth,
		store:     d.Store,
		smsSender: d.SMSSender,
		waSession: d.WASession,
		waSender:  d.WASender,
		uploadDir: d.UploadDir,
	}
}

// Router builds the gin engine. CORS is wide open, as the old backend was.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.POST("/auth/signup", s.handleSignUp)
	r.POST("/auth/signin", s.handleSignIn)

	m := r.Group("/messaging", s.requireAuth())
	{
		m.POST("/init-whatsapp", s.handleInitWhatsApp)
		m.GET("/check-whatsapp-auth", s.handleCheckWhatsAppAuth)
		m.POST("/send-bulk-whatsapp", s.handleSendBulkWhatsApp)
		m.POST("/send-bulk-sms", s.handleSendBulkSMS)
		m.POST("/send-bulk-email", s.handleSendBulkEmail)
	}

	r.GET("/dashboard", s.requireAuth(), s.handleDashboard)

	return r
}
