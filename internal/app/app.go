// Package app wires the daemon together: config, logging, storage, channel
// senders, retention, and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"msgblast/internal/api"
	"msgblast/internal/auth"
	"msgblast/internal/config"
	"msgblast/internal/sender"
	"msgblast/internal/sender/whatsapp"
	"msgblast/internal/storage"
	"msgblast/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store   storage.Store
	session *whatsapp.Session
	httpSrv *http.Server
	cron    *cron.Cron

	mu          sync.Mutex
	cancelTasks context.CancelFunc
	wg          sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logxConfig(cfg.Logging))
	mgr.SetLogger(log)
	mgr.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if store == nil {
		log.Warn("storage disabled; attempt history and accounts unavailable")
	}

	tokenTTL, err := config.ParseDurationOrDefault("auth.token_ttl", cfg.Auth.TokenTTL, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	authSvc, err := auth.New(auth.Config{
		JWTSecret: envOr(cfg.Auth.JWTSecret, "JWT_SECRET"),
		TokenTTL:  tokenTTL,
	}, store)
	if err != nil {
		return nil, err
	}

	var smsSender sender.Sender
	smsCfg := sender.SMSConfig{
		AccountSID: envOr(cfg.SMS.AccountSID, "TWILIO_ACCOUNT_SID"),
		AuthToken:  envOr(cfg.SMS.AuthToken, "TWILIO_AUTH_TOKEN"),
		FromNumber: envOr(cfg.SMS.FromNumber, "TWILIO_PHONE_NUMBER"),
	}
	if smsCfg.AccountSID != "" && smsCfg.AuthToken != "" && smsCfg.FromNumber != "" {
		smsSender, err = sender.NewSMS(smsCfg)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("sms channel not configured (missing twilio credentials)")
	}

	sendTimeout, err := config.ParseDurationOrDefault("whatsapp.send_timeout", cfg.WhatsApp.SendTimeout, 45*time.Second)
	if err != nil {
		return nil, err
	}
	settleDelay, err := config.ParseDurationOrDefault("whatsapp.settle_delay", cfg.WhatsApp.SettleDelay, 3*time.Second)
	if err != nil {
		return nil, err
	}
	session := whatsapp.NewSession(
		whatsapp.NewChrome(cfg.WhatsApp.Headless),
		cfg.WhatsApp.EntryURL,
		log.With(logx.String("channel", "whatsapp")),
	)
	waSender := whatsapp.NewSender(session, whatsapp.Options{
		SendTimeout: sendTimeout,
		SettleDelay: settleDelay,
	}, log)

	uploadDir := cfg.Server.UploadDir
	if uploadDir == "" {
		uploadDir = "./uploads"
	}
	server := api.NewServer(api.Deps{
		Log:       log,
		ConfigFn:  mgr.Get,
		Auth:      authSvc,
		Store:     store,
		SMSSender: smsSender,
		WASession: session,
		WASender:  waSender,
		UploadDir: uploadDir,
	})

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":5000"
	}

	return &App{
		cfgMgr:  mgr,
		logSvc:  logSvc,
		log:     log,
		store:   store,
		session: session,
		httpSrv: &http.Server{Addr: addr, Handler: server.Router()},
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelTasks != nil {
		return errors.New("already started")
	}

	tctx, cancel := context.WithCancel(context.Background())
	a.cancelTasks = cancel

	// Config watcher + live re-apply of the reloadable sections.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(tctx)
	}()
	sub := a.cfgMgr.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-tctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.logSvc.Apply(logxConfig(cfg.Logging))
				a.log.Info("config reloaded")
			}
		}
	}()

	if err := a.startRetention(); err != nil {
		cancel()
		a.cancelTasks = nil
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.Info("http server listening", logx.String("addr", a.httpSrv.Addr))
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server stopped", logx.Err(err))
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.mu.Lock()
	cancel := a.cancelTasks
	a.cancelTasks = nil
	c := a.cron
	a.cron = nil
	a.mu.Unlock()

	if err := a.httpSrv.Shutdown(ctx); err != nil {
		a.log.Warn("http shutdown", logx.Err(err))
	}
	if c != nil {
		<-c.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	if err := a.session.Shutdown(ctx); err != nil {
		a.log.Warn("whatsapp session shutdown", logx.Err(err))
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	return a.logSvc.Close()
}

func logxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

func validate(cfg *config.Config) error {
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("auth.token_ttl", cfg.Auth.TokenTTL); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("whatsapp.send_timeout", cfg.WhatsApp.SendTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("whatsapp.settle_delay", cfg.WhatsApp.SettleDelay); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("dispatch.per_send_timeout", cfg.Dispatch.PerSendTimeout); err != nil {
		return err
	}
	if cfg.Retention != nil {
		if _, err := config.ParseDurationField("retention.max_age", cfg.Retention.MaxAge); err != nil {
			return err
		}
	}
	return nil
}

func envOr(v, key string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return os.Getenv(key)
}
