package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env         string // APP_ENV (dev, test, prod)
	Port        string // APP_PORT
	TimeZone    string // APP_TZ, zone of visit wall-clock times
	ServiceName string // SERVICE_NAME, stamped on every log line
	LogLevel    string // LOG_LEVEL
	LogFormat   string // LOG_FORMAT (json | console)

	DBUser string
	DBPass string // empty allowed
	DBHost string
	DBPort string
	DBName string

	JWTSecret      string
	AccessTTLMin   int
	RefreshTTLDays int
	BcryptCost     int
	LoginURL       string // LOGIN_URL, returned with 401 responses

	RabbitURL   string // RABBITMQ_URL; empty disables visit events
	EventLogDir string // EVENT_LOG_DIR, where the consumer appends visits.log

	PhotoStore  string // PHOTO_STORE: db | s3 | memory
	S3Bucket    string
	S3Region    string
	S3Endpoint  string // S3_ENDPOINT for MinIO and friends
	S3PathStyle bool
	S3Prefix    string

	PDFEnabled bool   // REPORT_PDF_ENABLED
	LogoPath   string // REPORT_LOGO_PATH

	MetricsEnabled bool // METRICS_ENABLED exposes /metrics
}

// loader collects every missing or malformed required variable so one
// failed start reports all of them.
type loader struct{ errs []error }

// must retrieves the value of a required environment variable.
func (l *loader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		l.errs = append(l.errs, fmt.Errorf("missing required env var: %s", key))
	}
	return v
}

// mustInt is like must() but converts the value into an integer.
func (l *loader) mustInt(key string) int {
	s := l.must(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("invalid int for %s: %q", key, s))
	}
	return n
}

// LoadDotEnv reads .env files into the environment when present.
// Variables already set win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// Load reads configuration values from environment variables.  Every
// missing required variable is reported in the returned error.
func Load() (Config, error) {
	var l loader
	cfg := Config{
		Env:         l.must("APP_ENV"),
		Port:        envStr("APP_PORT", "8080"),
		TimeZone:    envStr("APP_TZ", "America/Argentina/Buenos_Aires"),
		ServiceName: envStr("SERVICE_NAME", "visitor-access-control"),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		LogFormat:   envStr("LOG_FORMAT", "json"),

		DBUser: l.must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: l.must("DB_HOST"),
		DBPort: envStr("DB_PORT", "3306"),
		DBName: l.must("DB_NAME"),

		JWTSecret:      l.must("JWT_SECRET"),
		AccessTTLMin:   l.mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: l.mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     envInt("BCRYPT_COST", 12),
		LoginURL:       envStr("LOGIN_URL", "/v1/auth/login"),

		RabbitURL:   os.Getenv("RABBITMQ_URL"),
		EventLogDir: envStr("EVENT_LOG_DIR", "logs"),

		PhotoStore:  envStr("PHOTO_STORE", "db"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Region:    envStr("S3_REGION", "us-east-1"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3PathStyle: envBool("S3_PATH_STYLE", false),
		S3Prefix:    envStr("S3_PREFIX", "visitors/"),

		PDFEnabled: envBool("REPORT_PDF_ENABLED", true),
		LogoPath:   envStr("REPORT_LOGO_PATH", "static/logo.png"),

		MetricsEnabled: envBool("METRICS_ENABLED", true),
	}
	if cfg.PhotoStore == "s3" && cfg.S3Bucket == "" {
		l.errs = append(l.errs, errors.New("S3_BUCKET is required when PHOTO_STORE=s3"))
	}
	if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
		l.errs = append(l.errs, fmt.Errorf("invalid APP_TZ %q: %w", cfg.TimeZone, err))
	}
	return cfg, errors.Join(l.errs...)
}

// Location returns the zone visit times are recorded in.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Addr is the HTTP listen address.
func (c Config) Addr() string { return ":" + c.Port }
