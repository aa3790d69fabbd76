package config

import (
	"os"
	"time"
)

// Server captures process level configuration.
type Server struct {
	Addr            string
	DatabaseURL     string
	SQLitePath      string
	JWTSigningKey   string
	QRSecret        string
	SweepInterval   time.Duration
	SweepTimeout    time.Duration
	SweepSecretHash string
	NotifyBrokers   string
	NotifyTopic     string
}

// Policy defaults. The sweep timeout is how long a permit may sit in the
// instructor's queue before the system rejects it.
var (
	DefaultSweepInterval = 5 * time.Minute
	DefaultSweepTimeout  = 1 * time.Hour
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("EXEAT_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	sweepInterval := DefaultSweepInterval
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if duration, err := time.ParseDuration(v); err == nil {
			sweepInterval = duration
		}
	}
	sweepTimeout := DefaultSweepTimeout
	if v := os.Getenv("SWEEP_TIMEOUT"); v != "" {
		if duration, err := time.ParseDuration(v); err == nil {
			sweepTimeout = duration
		}
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	qrSecret := os.Getenv("QR_SECRET")
	if qrSecret == "" {
		qrSecret = "dev-qr-secret-change-in-production"
	}

	notifyTopic := os.Getenv("NOTIFY_TOPIC")
	if notifyTopic == "" {
		notifyTopic = "exeat.notifications"
	}

	return Server{
		Addr:            addr,
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      os.Getenv("SQLITE_PATH"),
		JWTSigningKey:   jwtSigningKey,
		QRSecret:        qrSecret,
		SweepInterval:   sweepInterval,
		SweepTimeout:    sweepTimeout,
		SweepSecretHash: os.Getenv("SWEEP_SECRET_HASH"),
		NotifyBrokers:   os.Getenv("NOTIFY_BROKERS"),
		NotifyTopic:     notifyTopic,
	}
}
