package config

// Config is the root configuration for the msgblast daemon.
//
// Files may be YAML or JSON; YAML is coerced to JSON and decoded strictly
// (unknown fields are rejected).
//
// All durations are Go duration strings (e.g. "500ms", "45s", "24h").
type Config struct {
	Server    ServerConfig     `json:"server"`
	Logging   LoggingConfig    `json:"logging"`
	Storage   StorageConfig    `json:"storage"`
	Auth      AuthConfig       `json:"auth"`
	SMS       SMSConfig        `json:"sms"`
	Email     EmailConfig      `json:"email"`
	WhatsApp  WhatsAppConfig   `json:"whatsapp"`
	Dispatch  DispatchConfig   `json:"dispatch"`
	Retention *RetentionConfig `json:"retention,omitempty"`
}

type ServerConfig struct {
	Addr string `json:"addr,omitempty"` // default ":5000"

	// UploadDir holds CSV uploads while a batch is being dispatched.
	// Files are removed after dispatch; the retention sweep catches leftovers.
	UploadDir string `json:"upload_dir,omitempty"` // default "./uploads"
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects the attempt/user store backend.
//
// Driver values:
//   - "file": dependency-free backend (jsonl attempts + users snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled and attempt summaries
// are not persisted (dispatch still works).
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type AuthConfig struct {
	// JWTSecret signs API tokens. Falls back to the JWT_SECRET env var.
	JWTSecret string `json:"jwt_secret,omitempty"`
	TokenTTL  string `json:"token_ttl,omitempty"` // default "24h"
}

// SMSConfig carries the Twilio credentials and source number.
// SID/token fall back to TWILIO_ACCOUNT_SID / TWILIO_AUTH_TOKEN env vars.
type SMSConfig struct {
	AccountSID string `json:"account_sid,omitempty"`
	AuthToken  string `json:"auth_token,omitempty"`
	FromNumber string `json:"from_number,omitempty"`
}

// EmailConfig is transport-level only; sender credentials arrive per batch
// with the request and are never persisted.
type EmailConfig struct {
	Host string `json:"host,omitempty"` // default "smtp.gmail.com"
	Port int    `json:"port,omitempty"` // default 587
}

type WhatsAppConfig struct {
	EntryURL    string `json:"entry_url,omitempty"`    // default "https://web.whatsapp.com"
	SendTimeout string `json:"send_timeout,omitempty"` // default "45s"
	SettleDelay string `json:"settle_delay,omitempty"` // default "3s"
	Headless    bool   `json:"headless"`               // QR pairing needs a visible window
}

// DispatchConfig tunes the bulk engine for the concurrent channels
// (SMS, Email). WhatsApp always dispatches sequentially.
type DispatchConfig struct {
	Workers        int    `json:"workers,omitempty"`          // default 4
	RatePerSec     int    `json:"rate_per_sec,omitempty"`     // default 10
	PerSendTimeout string `json:"per_send_timeout,omitempty"` // "0s" disables
}

// RetentionConfig controls the periodic prune of old attempt summaries and
// stale upload files. If the whole section is omitted, retention is disabled.
type RetentionConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default "0 3 * * *"
	MaxAge   string `json:"max_age,omitempty"`  // default "720h"
}
