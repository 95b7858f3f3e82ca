package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DBDSN    string
	HTTPAddr string
	LogLevel string
	RedisDSN string

	// PKI material directory and the SANs baked into the serving certificate.
	PKIDir       string
	Hostnames    []string
	PKIOverwrite bool
	TLSEnabled   bool

	// Texture object storage (S3-compatible).
	S3Endpoint  string
	S3Bucket    string
	S3Region    string
	S3PublicURL string

	CORSOrigins []string

	// Failed-credential policy: after FailureLimit bad attempts within the
	// tracking window, further attempts answer 429.
	FailureLimit int
}

func Load() (Config, error) {
	cfg := Config{
		DBDSN:       os.Getenv("DB_DSN"),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8443"),
		LogLevel:    getenvDefault("LOG_LEVEL", "info"),
		RedisDSN:    getenvDefault("REDIS_DSN", "redis://localhost:6379/0"),
		PKIDir:      getenvDefault("PKI_DIR", "data/pki"),
		S3Endpoint:  getenvDefault("S3_ENDPOINT", ""),
		S3Bucket:    getenvDefault("S3_BUCKET", ""),
		S3Region:    getenvDefault("S3_REGION", "auto"),
		S3PublicURL: getenvDefault("S3_PUBLIC_URL", ""),
	}

	if cfg.DBDSN == "" {
		return Config{}, errors.New("missing DB_DSN")
	}

	cfg.PKIOverwrite = getenvDefault("PKI_OVERWRITE", "false") == "true"
	cfg.TLSEnabled = getenvDefault("TLS_ENABLED", "true") == "true"

	for _, h := range strings.Split(getenvDefault("HOSTNAMES", "localhost"), ",") {
		if h = strings.TrimSpace(h); h != "" {
			cfg.Hostnames = append(cfg.Hostnames, h)
		}
	}
	if len(cfg.Hostnames) == 0 {
		return Config{}, errors.New("HOSTNAMES must name at least one host")
	}

	if corsOrigins := getenvDefault("CORS_ORIGINS", ""); corsOrigins != "" {
		cfg.CORSOrigins = strings.Split(corsOrigins, ",")
		for i := range cfg.CORSOrigins {
			cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
		}
	}

	n, err := strconv.Atoi(getenvDefault("FAILURE_LIMIT", "10"))
	if err != nil || n < 1 {
		return Config{}, errors.New("FAILURE_LIMIT must be a positive integer")
	}
	cfg.FailureLimit = n

	return cfg, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
