package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/urfave/cli/v2"
)

// Cache server kinds.
const (
	CacheServerS3  = "s3"
	CacheServerDir = "dir"
)

// CacheServerConfig defines the shared cache server the build cache writes through to.
type CacheServerConfig struct {
	Enabled      bool
	Kind         string
	Host         string
	Port         int
	Dir          string
	Region       string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	PathStyle    bool
}

// Endpoint returns host:port, or an empty string when no host is configured.
func (c CacheServerConfig) Endpoint() string {
	if c.Host == "" {
		return ""
	}
	if c.Port <= 0 || strings.Contains(c.Host, "://") {
		return c.Host
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// loadCacheServerConfig builds the cache server config from CLI flags and the [cache] table.
func loadCacheServerConfig(c *cli.Context, settings cacheSettings) (CacheServerConfig, error) {
	cfg := CacheServerConfig{
		Kind:         strings.ToLower(strings.TrimSpace(pick(c, "cache-server", settings.Server))),
		Host:         pick(c, "cache-server-host", settings.ServerHost),
		Port:         c.Int("cache-server-port"),
		Dir:          pick(c, "cache-server-dir", settings.ServerDir),
		Region:       pick(c, "cache-server-region", settings.Region),
		Bucket:       pick(c, "cache-server-bucket", settings.Bucket),
		Prefix:       pick(c, "cache-server-prefix", settings.Prefix),
		AccessKey:    c.String("cache-server-access-key"),
		SecretKey:    c.String("cache-server-secret-key"),
		SessionToken: c.String("cache-server-session-token"),
	}
	if settings.ServerPort > 0 && !c.IsSet("cache-server-port") {
		cfg.Port = settings.ServerPort
	}
	pathStyleDisabled := c.Bool("cache-server-path-style-disabled")
	if !c.IsSet("cache-server-path-style-disabled") {
		pathStyleDisabled = pathStyleDisabled || settings.PathStyleDisabled
	}
	cfg.PathStyle = !pathStyleDisabled

	if cfg.Kind == "" {
		switch {
		case cfg.Bucket != "":
			cfg.Kind = CacheServerS3
		case cfg.Dir != "":
			cfg.Kind = CacheServerDir
		default:
			return cfg, nil
		}
	}
	cfg.Enabled = true

	switch cfg.Kind {
	case CacheServerS3:
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return cfg, helpers.ErrCacheServerEmptyCreds
		}
	case CacheServerDir:
		if cfg.Dir == "" {
			return cfg, fmt.Errorf("%w: dir cache server needs --cache-server-dir", helpers.ErrCacheServerKind)
		}
	default:
		return cfg, fmt.Errorf("%w: %q", helpers.ErrCacheServerKind, cfg.Kind)
	}
	return cfg, nil
}

// pick returns the flag value unless the flag is unset and fallback is not empty.
func pick(c *cli.Context, flag, fallback string) string {
	if fallback != "" && !c.IsSet(flag) {
		return fallback
	}
	return c.String(flag)
}
