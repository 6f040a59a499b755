package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	// CredentialStoreBackend selects where token-cache blobs live:
	// "redis", "postgres", or "memory" (single-process only).
	CredentialStoreBackend string
	TokenStoreStrictWrites bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ClientID            string
	ClientSecret        string
	AuthorityFormat     string
	TrustedIssuerPrefix string
	RedirectURL         string
	SessionSecret       string
	// IDTokenClockSkewSecs is the validation leeway on ID-token
	// time-based claims, absorbing clock drift against the identity
	// provider.
	IDTokenClockSkewSecs int

	ResourceManagerURL      string
	ResourceManagerAudience string
	GraphURL                string
	PermissionsAPIVersion   string
	RoleAssignAPIVersion    string
	RoleDefsAPIVersion      string
	SubscriptionAPIVersion  string
	GraphAPIVersion         string
	RequiredRoleName        string

	HTTPClientTimeoutSecs int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:    addr,
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		LogLevel:    envDefault("LOG_LEVEL", "info"),

		CredentialStoreBackend: envDefault("CREDENTIAL_STORE", "postgres"),
		TokenStoreStrictWrites: envBoolDefault("TOKEN_STORE_STRICT_WRITES", false),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envIntDefault("REDIS_DB", 0),

		ClientID:             os.Getenv("AAD_CLIENT_ID"),
		ClientSecret:         os.Getenv("AAD_CLIENT_SECRET"),
		AuthorityFormat:      envDefault("AAD_AUTHORITY_FORMAT", "https://login.windows.net/%s"),
		TrustedIssuerPrefix:  envDefault("AAD_TRUSTED_ISSUER_PREFIX", "https://sts.windows.net/"),
		RedirectURL:          os.Getenv("AUTH_REDIRECT_URL"),
		SessionSecret:        os.Getenv("SESSION_SECRET"),
		IDTokenClockSkewSecs: envIntDefault("AAD_ID_TOKEN_CLOCK_SKEW_SECONDS", 60),

		ResourceManagerURL:      envDefault("ARM_URL", "https://management.azure.com"),
		ResourceManagerAudience: envDefault("ARM_RESOURCE", "https://management.core.windows.net/"),
		GraphURL:                envDefault("GRAPH_URL", "https://graph.windows.net"),
		PermissionsAPIVersion:   envDefault("ARM_PERMISSIONS_API_VERSION", "2014-07-01-preview"),
		RoleAssignAPIVersion:    envDefault("ARM_ROLE_ASSIGNMENTS_API_VERSION", "2014-10-01-preview"),
		RoleDefsAPIVersion:      envDefault("ARM_ROLE_DEFINITIONS_API_VERSION", "2014-10-01-preview"),
		SubscriptionAPIVersion:  envDefault("ARM_SUBSCRIPTION_API_VERSION", "2014-04-01"),
		GraphAPIVersion:         envDefault("GRAPH_API_VERSION", "1.42-previewInternal"),
		RequiredRoleName:        envDefault("REQUIRED_ROLE_NAME", "Contributor"),

		HTTPClientTimeoutSecs: envIntDefault("HTTP_CLIENT_TIMEOUT_SECONDS", 10),
	}
}

func (c Config) IDTokenClockSkew() time.Duration {
	if c.IDTokenClockSkewSecs <= 0 {
		return 0
	}
	return time.Duration(c.IDTokenClockSkewSecs) * time.Second
}

func (c Config) HTTPClientTimeout() time.Duration {
	if c.HTTPClientTimeoutSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.HTTPClientTimeoutSecs) * time.Second
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
