// Package config loads devlift settings from the environment. Every value
// has a default; the result is validated with go-playground/validator.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/devlift/internal/domain"
)

// Fields carry the environment variable they are read from in the env tag;
// validation messages are keyed by it.

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          `env:"ENABLE_HSTS"`
	HSTSMaxAge time.Duration `env:"HSTS_MAX_AGE" validate:"gte=0s"`
}

// OTELConfig defines OpenTelemetry tracing settings.
type OTELConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"` // host:port of the collector
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName string  `env:"OTEL_SERVICE_NAME"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" validate:"gte=0,lte=1"`
}

// QuotaConfig defines per-service generation quotas. Policies are read from
// QUOTA_<SERVICE>_MAX and QUOTA_<SERVICE>_WINDOW.
type QuotaConfig struct {
	Policies      map[domain.Service]domain.ServiceLimitPolicy
	Store         string        `env:"QUOTA_STORE" validate:"oneof=memory db"`
	SweepInterval time.Duration `env:"QUOTA_SWEEP_INTERVAL" validate:"gt=0s"`
}

// WorkspaceConfig defines where repository checkouts live and how trees are built.
type WorkspaceConfig struct {
	Root           string        `env:"WORKSPACE_ROOT"` // empty = OS temp dir
	Prefix         string        `env:"WORKSPACE_PREFIX"`
	Exclude        []string      `env:"WORKSPACE_EXCLUDE"`
	TreeMaxEntries int           `env:"TREE_MAX_ENTRIES" validate:"gte=0"` // 0 = unlimited
	CloneBaseURL   string        `env:"GIT_CLONE_BASE_URL" validate:"required"`
	CloneDepth     int           `env:"GIT_CLONE_DEPTH" validate:"gte=0"` // 0 = full history
	StaleAfter     time.Duration `env:"WORKSPACE_STALE_AFTER" validate:"gt=0s"`
}

// GitHubConfig defines GitHub API access.
type GitHubConfig struct {
	Token  string `env:"GITHUB_TOKEN"`
	APIURL string `env:"GITHUB_API_URL"` // empty = public GitHub
}

// OpenAIConfig defines the AI transformation backend.
type OpenAIConfig struct {
	APIKey      string  `env:"OPENAI_API_KEY"`
	BaseURL     string  `env:"OPENAI_BASE_URL"`
	Model       string  `env:"OPENAI_MODEL" validate:"required"`
	Temperature float64 `env:"OPENAI_TEMPERATURE" validate:"gte=0,lte=2"`
}

// GenerationConfig defines pipeline limits.
type GenerationConfig struct {
	Timeout        time.Duration `env:"GENERATION_TIMEOUT" validate:"gt=0s"`
	ArtifactTTL    time.Duration `env:"ARTIFACT_TTL" validate:"gt=0s"`
	MaxFileRunes   int           `env:"README_MAX_FILE_RUNES" validate:"gt=0"`
	ResumeTopRepos int           `env:"RESUME_TOP_REPOS" validate:"min=1,max=20"`
}

// DocumentsConfig defines document storage and text extraction.
type DocumentsConfig struct {
	BucketURL string `env:"DOCUMENTS_BUCKET_URL" validate:"required"` // gocloud.dev/blob URL
	TikaURL   string `env:"TIKA_URL"`
	MaxBytes  int64  `env:"DOCUMENT_MAX_BYTES" validate:"gt=0"`
}

// Config holds all configuration values for the application.
type Config struct {
	Port              string        `env:"PORT" validate:"required"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" validate:"gt=0s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" validate:"gt=0s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" validate:"gt=0s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" validate:"gt=0s"`
	MaxHeaderBytes    int           `env:"MAX_HEADER_BYTES" validate:"gt=0"`
	GinMode           string        `env:"GIN_MODE"` // unknown values fall back to release

	LogLevel       string `env:"LOG_LEVEL" validate:"oneof=debug info warn error fatal panic"`
	LogPretty      bool   `env:"LOG_PRETTY"`
	SwaggerEnabled bool   `env:"SWAGGER_ENABLED"`
	APIBasePath    string `env:"API_BASE_PATH"`

	DBPath string `env:"DB_PATH" validate:"required"`

	Quota      QuotaConfig
	Workspace  WorkspaceConfig
	GitHub     GitHubConfig
	OpenAI     OpenAIConfig
	Generation GenerationConfig
	Documents  DocumentsConfig

	// CleanupInterval drives the artifact, idempotency and workspace sweeps.
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" validate:"gt=0s"`

	RateRPS   float64 `env:"RATE_RPS" validate:"gte=0"`
	RateBurst int     `env:"RATE_BURST" validate:"gte=1"`

	CORS     CORSConfig
	Security SecurityConfig

	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" validate:"gt=0s"`

	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              strings.TrimSpace(getenv("PORT", "8080")),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DBPath: strings.TrimSpace(getenv("DB_PATH", "devlift.db")),

		Quota: QuotaConfig{
			Policies: map[domain.Service]domain.ServiceLimitPolicy{
				domain.ServiceReadme:    getpolicy(domain.ServiceReadme, 10, 24*time.Hour),
				domain.ServiceStructure: getpolicy(domain.ServiceStructure, 10, 24*time.Hour),
				domain.ServiceLinkedIn:  getpolicy(domain.ServiceLinkedIn, 5, 12*time.Hour),
				domain.ServiceResume:    getpolicy(domain.ServiceResume, 5, 24*time.Hour),
			},
			Store:         strings.ToLower(getenv("QUOTA_STORE", "db")),
			SweepInterval: getdur("QUOTA_SWEEP_INTERVAL", time.Hour),
		},
		Workspace: WorkspaceConfig{
			Root:           getenv("WORKSPACE_ROOT", ""),
			Prefix:         getenv("WORKSPACE_PREFIX", "devlift"),
			Exclude:        splitCSV(getenv("WORKSPACE_EXCLUDE", ".git,node_modules")),
			TreeMaxEntries: getint("TREE_MAX_ENTRIES", 5000),
			CloneBaseURL:   strings.TrimSpace(getenv("GIT_CLONE_BASE_URL", "https://github.com")),
			CloneDepth:     getint("GIT_CLONE_DEPTH", 1),
			StaleAfter:     getdur("WORKSPACE_STALE_AFTER", time.Hour),
		},
		GitHub: GitHubConfig{
			Token:  getenv("GITHUB_TOKEN", ""),
			APIURL: getenv("GITHUB_API_URL", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey:      getenv("OPENAI_API_KEY", ""),
			BaseURL:     getenv("OPENAI_BASE_URL", ""),
			Model:       getenv("OPENAI_MODEL", "gpt-4o"),
			Temperature: getfloat("OPENAI_TEMPERATURE", 0.7),
		},
		Generation: GenerationConfig{
			Timeout:        getdur("GENERATION_TIMEOUT", 2*time.Minute),
			ArtifactTTL:    getdur("ARTIFACT_TTL", 7*24*time.Hour),
			MaxFileRunes:   getint("README_MAX_FILE_RUNES", 8000),
			ResumeTopRepos: getint("RESUME_TOP_REPOS", 5),
		},
		Documents: DocumentsConfig{
			BucketURL: strings.TrimSpace(getenv("DOCUMENTS_BUCKET_URL", "file:///var/lib/devlift/documents?create_dir=1")),
			TikaURL:   getenv("TIKA_URL", "http://localhost:9998"),
			MaxBytes:  int64(getint("DOCUMENT_MAX_BYTES", 10<<20)),
		},
		CleanupInterval: getdur("CLEANUP_INTERVAL", 15*time.Minute),

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "devlift"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	return cfg, cfg.Validate()
}

// Validate checks every tagged field and the per-service quota policies.
// All violations are reported together.
func (c Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}
	for _, svc := range domain.Services() {
		p := c.Quota.Policies[svc]
		if p.MaxRequests <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", quotaKey(svc, "MAX")))
		}
		if p.Window <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", quotaKey(svc, "WINDOW")))
		}
	}
	return errors.Join(errs...)
}

var validate = newValidator()

// newValidator names fields by their env tag so messages point at the
// variable to fix.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

func fieldError(fe validator.FieldError) error {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s must not be empty", name)
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", name, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Errorf("%s must be > %s", name, fe.Param())
	case "gte", "min":
		return fmt.Errorf("%s must be >= %s", name, fe.Param())
	case "lte", "max":
		return fmt.Errorf("%s must be <= %s", name, fe.Param())
	default:
		return fmt.Errorf("%s is invalid (%s)", name, fe.Tag())
	}
}

// quotaKey builds QUOTA_<SERVICE>_<suffix>.
func quotaKey(svc domain.Service, suffix string) string {
	return "QUOTA_" + strings.ToUpper(string(svc)) + "_" + suffix
}

func getpolicy(svc domain.Service, defMax int, defWindow time.Duration) domain.ServiceLimitPolicy {
	return domain.ServiceLimitPolicy{
		MaxRequests: getint(quotaKey(svc, "MAX"), defMax),
		Window:      getdur(quotaKey(svc, "WINDOW"), defWindow),
	}
}

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if p = strings.TrimRight(p, "/"); p == "" {
		return "/"
	}
	return p
}
