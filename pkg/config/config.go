// Package config loads the automation core's runtime configuration from the
// environment, with a .env file picked up in development.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the automation core
type Config struct {
	Port      string
	JWTSecret string

	// Delivery retry policy
	MaxDeliveryAttempts int
	DeliveryBaseDelay   time.Duration
	DeliveryTimeout     time.Duration

	// Signature rotation
	SignatureGraceWindow time.Duration

	// Sweep cadence (cron specs, robfig/cron v3 syntax)
	RetrySweepSpec       string
	AutoApproveSweepSpec string
	ReminderSweepSpec    string

	// Reminder escalation
	ReminderThresholds []time.Duration
	MaxReminders       int
	AdminRole          string

	// Notification transport
	NATSURL               string
	NotificationsSubject  string
	DomainCommandsSubject string
}

// Load reads configuration from the environment. A .env file in the working
// directory (or one level up, for cmd/ binaries) is loaded first if present.
func Load() *Config {
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			log.Printf("Loaded .env from %s", p)
			break
		}
	}

	return &Config{
		Port:      envString("PORT", "3001"),
		JWTSecret: envString("JWT_SECRET", "default-secret-change-in-production"),

		MaxDeliveryAttempts: envInt("DELIVERY_MAX_ATTEMPTS", 5),
		DeliveryBaseDelay:   envDuration("DELIVERY_BASE_DELAY", 30*time.Second),
		DeliveryTimeout:     envDuration("DELIVERY_TIMEOUT", 30*time.Second),

		SignatureGraceWindow: envDuration("SIGNATURE_GRACE_WINDOW", 24*time.Hour),

		RetrySweepSpec:       envString("RETRY_SWEEP_SPEC", "@every 30s"),
		AutoApproveSweepSpec: envString("AUTO_APPROVE_SWEEP_SPEC", "@every 1m"),
		ReminderSweepSpec:    envString("REMINDER_SWEEP_SPEC", "@every 1h"),

		ReminderThresholds: []time.Duration{
			envDuration("REMINDER_FIRST", 24 * time.Hour),
			envDuration("REMINDER_SECOND", 3 * 24 * time.Hour),
			envDuration("REMINDER_THIRD", 7 * 24 * time.Hour),
		},
		MaxReminders: envInt("MAX_REMINDERS", 3),
		AdminRole:    envString("ADMIN_ROLE", "admin"),

		NATSURL:               envString("NATS_URL", ""),
		NotificationsSubject:  envString("NOTIFICATIONS_SUBJECT", "notifications.ops"),
		DomainCommandsSubject: envString("DOMAIN_COMMANDS_SUBJECT", "domain.commands"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("⚠️  Invalid integer for %s, using default %d", key, fallback)
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("⚠️  Invalid duration for %s, using default %s", key, fallback)
	}
	return fallback
}
