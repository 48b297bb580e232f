package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config centraliza a configuração carregada do ambiente.
type Config struct {
	Port            int
	DBDSN           string
	RedisURL        string
	JWTAccessTTL    time.Duration
	JWTRefreshTTL   time.Duration
	JWTSecret       string
	AllowOrigins    []string
	AdminEmails     []string
	RateLimitPublic RateLimitConfig
	RateLimitAuth   RateLimitConfig
	OIDC            OIDCConfig
	Classifier      ClassifierConfig
	Storage         StorageConfig
	Categories      []string
	LiveBackend     string

	// AutoAssignSchedule é uma expressão cron; vazio desliga a varredura periódica.
	AutoAssignSchedule string
}

// RateLimitConfig representa limites simples para throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// OIDCConfig descreve o provedor de identidade externo.
type OIDCConfig struct {
	IssuerURL       string
	ClientID        string
	ClientSecret    string
	RedirectURL     string
	PostLoginURL    string
	Scopes          []string
	LoginAttemptTTL time.Duration
}

// ClassifierConfig agrupa parâmetros do classificador automático.
type ClassifierConfig struct {
	Provider        string
	AnthropicAPIKey string
	PrimaryModel    string
	SecondaryModel  string
	DefaultCategory string
	Threshold       float64
	Timeout         time.Duration
}

// StorageConfig define o backend de hospedagem de imagens.
type StorageConfig struct {
	Provider      string
	S3Endpoint    string
	S3Region      string
	S3Bucket      string
	S3AccessKey   string
	S3SecretKey   string
	S3PublicURL   string
	MaxImageBytes int64
}

// Load carrega variáveis de ambiente e aplica defaults seguros.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	portStr := getEnv("PORT", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return nil, errors.New("PORT inválida")
	}
	cfg.Port = port

	cfg.DBDSN = getEnv("DB_DSN", "")
	if cfg.DBDSN == "" {
		return nil, errors.New("DB_DSN obrigatório")
	}

	cfg.RedisURL = getEnv("REDIS_URL", "")
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL obrigatório")
	}

	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", ""))
	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("JWT_SECRET deve ter pelo menos 32 caracteres")
	}

	accessTTL, err := parseDurationEnv("JWT_ACCESS_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.JWTAccessTTL = accessTTL

	refreshTTL, err := parseDurationEnv("JWT_REFRESH_TTL", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.JWTRefreshTTL = refreshTTL

	cfg.AllowOrigins = splitList(getEnv("ALLOW_ORIGINS", ""))
	cfg.AdminEmails = NormalizeEmails(splitList(getEnv("ADMIN_EMAILS", "")))

	cfg.RateLimitPublic = RateLimitConfig{RequestsPerSecond: 10, Burst: 20}
	cfg.RateLimitAuth = RateLimitConfig{RequestsPerSecond: 10, Burst: 40}

	if err := loadOIDC(cfg); err != nil {
		return nil, err
	}
	if err := loadClassifier(cfg); err != nil {
		return nil, err
	}
	if err := loadStorage(cfg); err != nil {
		return nil, err
	}

	categories, err := LoadCategories(getEnv("CATEGORIES_FILE", ""))
	if err != nil {
		return nil, err
	}
	cfg.Categories = categories

	cfg.LiveBackend = strings.ToLower(strings.TrimSpace(getEnv("LIVE_BACKEND", "redis")))
	switch cfg.LiveBackend {
	case "redis", "memory":
	default:
		return nil, errors.New("LIVE_BACKEND inválido")
	}

	cfg.AutoAssignSchedule = strings.TrimSpace(getEnv("AUTO_ASSIGN_SCHEDULE", ""))

	return cfg, nil
}

func loadOIDC(cfg *Config) error {
	cfg.OIDC.IssuerURL = strings.TrimSpace(getEnv("OIDC_ISSUER_URL", ""))
	if cfg.OIDC.IssuerURL == "" {
		return errors.New("OIDC_ISSUER_URL obrigatório")
	}
	cfg.OIDC.ClientID = strings.TrimSpace(getEnv("OIDC_CLIENT_ID", ""))
	if cfg.OIDC.ClientID == "" {
		return errors.New("OIDC_CLIENT_ID obrigatório")
	}
	cfg.OIDC.ClientSecret = strings.TrimSpace(getEnv("OIDC_CLIENT_SECRET", ""))
	cfg.OIDC.RedirectURL = strings.TrimSpace(getEnv("OIDC_REDIRECT_URL", "http://localhost:8080/v1/auth/callback"))
	cfg.OIDC.PostLoginURL = strings.TrimSpace(getEnv("OIDC_POST_LOGIN_URL", "http://localhost:5173/"))
	cfg.OIDC.Scopes = splitList(getEnv("OIDC_SCOPES", "openid,email,profile"))

	ttl, err := parseDurationEnv("OIDC_LOGIN_TTL", 10*time.Minute)
	if err != nil {
		return err
	}
	cfg.OIDC.LoginAttemptTTL = ttl
	return nil
}

func loadClassifier(cfg *Config) error {
	cfg.Classifier.Provider = strings.ToLower(strings.TrimSpace(getEnv("CLASSIFIER_PROVIDER", "anthropic")))
	cfg.Classifier.AnthropicAPIKey = strings.TrimSpace(getEnv("ANTHROPIC_API_KEY", ""))
	cfg.Classifier.PrimaryModel = strings.TrimSpace(getEnv("CLASSIFIER_PRIMARY_MODEL", "claude-sonnet-4-5-20250929"))
	cfg.Classifier.SecondaryModel = strings.TrimSpace(getEnv("CLASSIFIER_SECONDARY_MODEL", "claude-haiku-4-5"))
	cfg.Classifier.DefaultCategory = strings.TrimSpace(getEnv("CLASSIFIER_DEFAULT_CATEGORY", "General"))
	if cfg.Classifier.DefaultCategory == "" {
		return errors.New("CLASSIFIER_DEFAULT_CATEGORY inválida")
	}

	threshold, err := strconv.ParseFloat(getEnv("CLASSIFIER_THRESHOLD", "0.7"), 64)
	if err != nil || threshold < 0 || threshold > 1 {
		return errors.New("CLASSIFIER_THRESHOLD inválido")
	}
	cfg.Classifier.Threshold = threshold

	timeout, err := parseDurationEnv("CLASSIFIER_TIMEOUT", 20*time.Second)
	if err != nil {
		return err
	}
	cfg.Classifier.Timeout = timeout

	switch cfg.Classifier.Provider {
	case "none":
	case "anthropic":
		if cfg.Classifier.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY obrigatório quando CLASSIFIER_PROVIDER=anthropic")
		}
	default:
		return errors.New("CLASSIFIER_PROVIDER não suportado")
	}
	return nil
}

func loadStorage(cfg *Config) error {
	cfg.Storage.Provider = strings.ToLower(strings.TrimSpace(getEnv("STORAGE_PROVIDER", "noop")))
	cfg.Storage.S3Endpoint = strings.TrimSpace(getEnv("S3_ENDPOINT", ""))
	cfg.Storage.S3Region = strings.TrimSpace(getEnv("S3_REGION", "auto"))
	cfg.Storage.S3Bucket = strings.TrimSpace(getEnv("S3_BUCKET", ""))
	cfg.Storage.S3AccessKey = strings.TrimSpace(getEnv("S3_ACCESS_KEY", ""))
	cfg.Storage.S3SecretKey = strings.TrimSpace(getEnv("S3_SECRET_KEY", ""))
	cfg.Storage.S3PublicURL = strings.TrimSpace(getEnv("S3_PUBLIC_URL", ""))

	maxBytes, err := strconv.ParseInt(getEnv("MAX_IMAGE_BYTES", "8388608"), 10, 64)
	if err != nil || maxBytes <= 0 {
		return errors.New("MAX_IMAGE_BYTES inválido")
	}
	cfg.Storage.MaxImageBytes = maxBytes

	switch cfg.Storage.Provider {
	case "noop":
	case "s3":
		if cfg.Storage.S3Endpoint == "" || cfg.Storage.S3Bucket == "" {
			return errors.New("S3_ENDPOINT e S3_BUCKET obrigatórios quando STORAGE_PROVIDER=s3")
		}
	default:
		return errors.New("STORAGE_PROVIDER não suportado")
	}
	return nil
}

// NormalizeEmails devolve e-mails em minúsculas, sem espaços nem duplicados.
func NormalizeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	val := getEnv(key, "")
	if val == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(val)
	if err != nil {
		return 0, errors.New(key + " inválido")
	}
	return dur, nil
}
