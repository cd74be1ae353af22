// Package infra bundles the runtime dependencies of a command.
package infra

import (
	"net/http"
	"os"
	"time"

	"github.com/greeddj/go-sbp/internal/sbp/config"
	"github.com/greeddj/go-sbp/internal/sbp/output"
)

// Infra holds runtime dependencies such as IO and HTTP clients.
type Infra struct {
	Output  output.Printer
	HTTP    *http.Client
	Now     func() time.Time
	TempDir func() string
}

// New builds Infra with default helpers for time and temp paths.
func New(out output.Printer, httpClient *http.Client) *Infra {
	if out == nil {
		out = output.Discard
	}
	return &Infra{
		Output:  out,
		HTTP:    httpClient,
		Now:     time.Now,
		TempDir: os.TempDir,
	}
}

// DebugConfig logs which settings came from the settings file and where the cache lives.
func (i *Infra) DebugConfig(cfg *config.Config) {
	if i == nil || i.Output == nil || cfg == nil {
		return
	}
	if cfg.SettingsPath != "" {
		for _, key := range cfg.SettingsUsed {
			i.Output.Debugf("%s: %s", cfg.SettingsPath, key)
		}
	}
	if cfg.CacheDir != "" {
		i.Output.Debugf("build cache: %s (limit %d GB)", cfg.CacheDir, cfg.MaxCacheSizeGB)
	}
	if server := cfg.CacheServer; server.Enabled {
		switch server.Kind {
		case config.CacheServerDir:
			i.Output.Debugf("cache server: %s %s", server.Kind, server.Dir)
		default:
			i.Output.Debugf("cache server: %s %s bucket=%s prefix=%s", server.Kind, server.Endpoint(), server.Bucket, server.Prefix)
		}
	}
}
