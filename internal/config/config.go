// Package config loads the gateway configuration from the environment.
//
// All settings come from environment variables (a .env file is honored in
// development). Validate the security-relevant settings with
// ValidateSecurity before serving traffic: in production the process must
// refuse to start with auth disabled, a weak API key, SAFEGUARD off, a
// missing encryption key or an empty origin list.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds the full configuration for both the MCP server and the
// workflow runner.
type Settings struct {
	// Server
	Host        string
	Port        int
	Environment string // development, staging, production
	LogLevel    string

	// Security (SAFEGUARD)
	APIKey           string
	RequireAuth      bool
	AllowedOrigins   []string
	SafeguardEnabled bool
	EncryptionKey    string // key material for the secret envelope store

	// PostgreSQL (approval queue)
	PostgresHost string
	PostgresPort int
	PostgresUser string
	PostgresPass string
	PostgresDB   string

	// Redis (state store + secret envelopes)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// GLPI ticketing
	GLPIURL       string
	GLPIAppToken  string
	GLPIUserToken string
	GLPITicketURL string // base URL for ticket deep links

	// Observium monitoring
	ObserviumURL  string
	ObserviumUser string
	ObserviumPass string

	// Directory service (LDAP)
	LDAPServer   string
	LDAPBaseDN   string
	LDAPBindUser string
	LDAPBindPass string

	// SMTP
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPass      string
	SMTPFromName  string
	SMTPFromEmail string

	// Notification webhooks
	SlackWebhookURL string
	TeamsWebhookURL string
	DashboardURL    string // SAFEGUARD dashboard link included in approval notices

	// Workflow runner
	MCPServerURL     string
	MCPTimeout       time.Duration
	MCPMaxRetries    int
	SchedulerEnabled bool
	RunnerPort       int
}

// Finding is one result of the security validation.
type Finding struct {
	Critical bool
	Message  string
}

// Load reads settings from the environment. A .env file in the working
// directory is loaded first if present; real environment variables win.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	s := &Settings{
		Host:        envStr("MCP_SERVER_HOST", "0.0.0.0"),
		Port:        envInt("MCP_SERVER_PORT", 3001),
		Environment: envStr("ENVIRONMENT", "development"),
		LogLevel:    envStr("LOG_LEVEL", "INFO"),

		APIKey:           os.Getenv("MCP_API_KEY"),
		RequireAuth:      envBool("MCP_REQUIRE_AUTH", true),
		AllowedOrigins:   splitOrigins(envStr("CORS_ALLOWED_ORIGINS", "http://localhost:5678,http://127.0.0.1:5678")),
		SafeguardEnabled: envBool("SAFEGUARD_ENABLED", true),
		EncryptionKey:    os.Getenv("SECRET_ENCRYPTION_KEY"),

		PostgresHost: envStr("POSTGRES_HOST", "postgres"),
		PostgresPort: envInt("POSTGRES_PORT", 5432),
		PostgresUser: envStr("POSTGRES_USER", "postgres"),
		PostgresPass: os.Getenv("POSTGRES_PASS"),
		PostgresDB:   envStr("POSTGRES_DB", "widip_knowledge"),

		RedisAddr:     envStr("REDIS_ADDR", "redis:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		GLPIURL:       os.Getenv("GLPI_URL"),
		GLPIAppToken:  os.Getenv("GLPI_APP_TOKEN"),
		GLPIUserToken: os.Getenv("GLPI_USER_TOKEN"),
		GLPITicketURL: os.Getenv("GLPI_TICKET_BASE_URL"),

		ObserviumURL:  os.Getenv("OBSERVIUM_URL"),
		ObserviumUser: os.Getenv("OBSERVIUM_USER"),
		ObserviumPass: os.Getenv("OBSERVIUM_PASS"),

		LDAPServer:   os.Getenv("LDAP_SERVER"),
		LDAPBaseDN:   os.Getenv("LDAP_BASE_DN"),
		LDAPBindUser: os.Getenv("LDAP_BIND_USER"),
		LDAPBindPass: os.Getenv("LDAP_BIND_PASS"),

		SMTPHost:      os.Getenv("SMTP_HOST"),
		SMTPPort:      envInt("SMTP_PORT", 587),
		SMTPUser:      os.Getenv("SMTP_USER"),
		SMTPPass:      os.Getenv("SMTP_PASS"),
		SMTPFromName:  envStr("SMTP_FROM_NAME", "WIDIP"),
		SMTPFromEmail: os.Getenv("SMTP_FROM_EMAIL"),

		SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
		TeamsWebhookURL: os.Getenv("TEAMS_WEBHOOK_URL"),
		DashboardURL:    os.Getenv("SAFEGUARD_DASHBOARD_URL"),

		MCPServerURL:     envStr("MCP_SERVER_URL", "http://localhost:3001"),
		MCPTimeout:       time.Duration(envInt("MCP_TIMEOUT_SECONDS", 30)) * time.Second,
		MCPMaxRetries:    envInt("MCP_MAX_RETRIES", 3),
		SchedulerEnabled: envBool("SCHEDULER_ENABLED", true),
		RunnerPort:       envInt("RUNNER_PORT", 3002),
	}

	return s, nil
}

// IsProduction reports whether the process runs with production hardening.
func (s *Settings) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

// PostgresDSN builds the lib/pq connection string.
func (s *Settings) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		s.PostgresHost, s.PostgresPort, s.PostgresUser, s.PostgresPass, s.PostgresDB,
	)
}

// ValidateSecurity checks the security configuration and returns findings.
// Critical findings must abort startup in production.
func (s *Settings) ValidateSecurity() []Finding {
	var findings []Finding

	critical := func(format string, args ...any) {
		findings = append(findings, Finding{Critical: true, Message: fmt.Sprintf(format, args...)})
	}
	warn := func(format string, args ...any) {
		findings = append(findings, Finding{Critical: false, Message: fmt.Sprintf(format, args...)})
	}

	if s.IsProduction() {
		if !s.RequireAuth {
			critical("MCP_REQUIRE_AUTH must be true in production")
		}
		if s.APIKey == "" {
			critical("MCP_API_KEY is empty in production; set a strong key (32+ chars)")
		}
		if s.APIKey != "" && len(s.APIKey) < 32 {
			critical("MCP_API_KEY too short (%d chars); 32+ required in production", len(s.APIKey))
		}
		if !s.SafeguardEnabled {
			critical("SAFEGUARD_ENABLED must be true in production")
		}
		if s.EncryptionKey == "" {
			critical("SECRET_ENCRYPTION_KEY is empty in production; required to persist L3 approval secrets")
		}
		if len(s.AllowedOrigins) == 0 {
			critical("CORS_ALLOWED_ORIGINS must list exact origins in production (no wildcards)")
		}
		for _, origin := range s.AllowedOrigins {
			if strings.Contains(origin, "*") {
				critical("CORS_ALLOWED_ORIGINS entry %q is a wildcard; exact origins required in production", origin)
			}
		}
	}

	if s.RequireAuth && s.APIKey == "" {
		critical("MCP_REQUIRE_AUTH is true but MCP_API_KEY is empty")
	}
	if s.APIKey != "" && len(s.APIKey) < 32 && !s.IsProduction() {
		warn("MCP_API_KEY is short (%d chars); use 32+ chars before production", len(s.APIKey))
	}
	if s.EncryptionKey != "" && len(s.EncryptionKey) < 32 {
		warn("SECRET_ENCRYPTION_KEY is short (%d chars); use 32+ chars", len(s.EncryptionKey))
	}

	return findings
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
