package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// PermissionsSource selects where admin/receiver roles come from.
// The spreadsheet matrix is the successor of the legacy bot_admin /
// request_receiver tables; deployments pick one until the migration is done.
type PermissionsSource string

const (
	PermissionsSheet  PermissionsSource = "sheet"
	PermissionsLegacy PermissionsSource = "legacy"
)

// Config holds every environment-driven setting. All required variables are
// validated in Load; the process must not start with a partial configuration.
type Config struct {
	Env      string
	HTTPAddr string
	LogLevel string

	DatabaseURL string

	// POS (on-prem ERP) API.
	POSBaseURL     string
	POSLogin       string
	POSPasswordSHA string
	POSVerifySSL   bool

	// Finance (cloud bookkeeping) API.
	FinanceBaseURL string
	FinanceToken   string

	// Cloud POS API (stop-lists, webhooks).
	CloudBaseURL       string
	CloudWebhookSecret string
	CloudWebhookURL    string
	CloudOrgID         string

	// Chat transport.
	BotToken string

	// External invoice-recognition service. Empty disables the upload flow.
	OCRServiceURL string

	// Optional shared cache / FSM storage backend. Empty = in-process only.
	RedisURL string

	// Spreadsheet (permissions matrix, min/max levels, export groups).
	SheetID     string
	SheetsToken string

	// Operational timezone; every business "now" is taken here.
	Timezone string

	PermissionsFrom PermissionsSource

	// Nightly negative-consumable transfer.
	TransferSourcePrefix  string
	TransferTargetPrefix  []string
	TransferProductGroup  string

	// Stock alert tuning (webhook-driven resync).
	StockCheckOrderInterval int
	StockChangeThresholdPct float64
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// Load reads and validates the environment. It returns an error naming the
// first offending variable so deployment failures are diagnosable from one
// log line.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      env("ENV", "dev"),
		HTTPAddr: env("HTTP_ADDR", ":8081"),
		LogLevel: strings.ToLower(env("LOG_LEVEL", "info")),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		POSBaseURL:     os.Getenv("POS_BASE_URL"),
		POSLogin:       os.Getenv("POS_LOGIN"),
		POSPasswordSHA: os.Getenv("POS_PASSWORD_SHA1"),
		POSVerifySSL:   env("POS_VERIFY_SSL", "true") == "true",

		FinanceBaseURL: env("FINANCE_BASE_URL", "https://api.fintablo.ru"),
		FinanceToken:   os.Getenv("FINANCE_TOKEN"),

		CloudBaseURL:       env("CLOUD_BASE_URL", "https://api-ru.iiko.services"),
		CloudWebhookSecret: os.Getenv("CLOUD_WEBHOOK_SECRET"),
		CloudWebhookURL:    os.Getenv("CLOUD_WEBHOOK_URL"),
		CloudOrgID:         os.Getenv("CLOUD_ORG_ID"),

		BotToken: os.Getenv("BOT_TOKEN"),

		OCRServiceURL: os.Getenv("OCR_SERVICE_URL"),

		RedisURL: os.Getenv("REDIS_URL"),
		SheetID:     os.Getenv("SHEET_ID"),
		SheetsToken: os.Getenv("GOOGLE_SHEETS_TOKEN"),

		Timezone: env("TIMEZONE", "Europe/Kaliningrad"),

		PermissionsFrom: PermissionsSource(env("PERMISSIONS_SOURCE", "sheet")),

		TransferSourcePrefix: env("NEGATIVE_TRANSFER_SOURCE_PREFIX", "Хоз. товары"),
		TransferProductGroup: env("NEGATIVE_TRANSFER_PRODUCT_GROUP", "Расходные материалы"),
	}

	for _, p := range strings.Split(env("NEGATIVE_TRANSFER_TARGET_PREFIXES", "Бар,Кухня"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.TransferTargetPrefix = append(cfg.TransferTargetPrefix, p)
		}
	}

	var err error
	if cfg.StockCheckOrderInterval, err = strconv.Atoi(env("STOCK_CHECK_ORDER_INTERVAL", "10")); err != nil {
		return nil, fmt.Errorf("STOCK_CHECK_ORDER_INTERVAL: %w", err)
	}
	if cfg.StockChangeThresholdPct, err = strconv.ParseFloat(env("STOCK_CHANGE_THRESHOLD_PCT", "5"), 64); err != nil {
		return nil, fmt.Errorf("STOCK_CHANGE_THRESHOLD_PCT: %w", err)
	}

	required := []struct{ name, val string }{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"POS_BASE_URL", cfg.POSBaseURL},
		{"POS_LOGIN", cfg.POSLogin},
		{"POS_PASSWORD_SHA1", cfg.POSPasswordSHA},
		{"FINANCE_TOKEN", cfg.FinanceToken},
		{"BOT_TOKEN", cfg.BotToken},
	}
	for _, r := range required {
		if r.val == "" {
			return nil, fmt.Errorf("missing required env variable: %s", r.name)
		}
	}

	for _, u := range []struct{ name, val string }{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"POS_BASE_URL", cfg.POSBaseURL},
		{"FINANCE_BASE_URL", cfg.FinanceBaseURL},
		{"CLOUD_BASE_URL", cfg.CloudBaseURL},
	} {
		if _, err := url.Parse(u.val); err != nil {
			return nil, fmt.Errorf("%s is not a valid URL: %w", u.name, err)
		}
	}
	if cfg.RedisURL != "" {
		if _, err := url.Parse(cfg.RedisURL); err != nil {
			return nil, fmt.Errorf("REDIS_URL is not a valid URL: %w", err)
		}
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", cfg.Timezone, err)
	}

	switch cfg.PermissionsFrom {
	case PermissionsSheet, PermissionsLegacy:
	default:
		return nil, fmt.Errorf("PERMISSIONS_SOURCE must be %q or %q, got %q",
			PermissionsSheet, PermissionsLegacy, cfg.PermissionsFrom)
	}

	return cfg, nil
}

var secretRe = regexp.MustCompile(`(?i)(key|token|password|pass|secret|bearer)=([^\s&"']+)`)

// MaskSecrets redacts query-string style secrets so upstream URLs are safe to
// log. Applied to every error/URL line that might carry credentials.
func MaskSecrets(s string) string {
	if s == "" {
		return s
	}
	return secretRe.ReplaceAllString(s, "$1=***")
}
