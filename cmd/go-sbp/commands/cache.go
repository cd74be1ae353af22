package commands

import (
	"github.com/greeddj/go-sbp/cmd/go-sbp/helpers"
	"github.com/greeddj/go-sbp/internal/progress"
	"github.com/greeddj/go-sbp/internal/sbp/cleanup"
	"github.com/greeddj/go-sbp/internal/sbp/config"
	"github.com/urfave/cli/v2"
)

// Prune returns the CLI command that shrinks the build cache to its size limit.
func Prune() *cli.Command {
	return &cli.Command{
		Name:    "prune",
		Aliases: []string{"p"},
		Usage:   "Remove least recently used build cache entries above the size limit",
		Flags:   helpers.CommonFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := config.BuildCacheConfig(c)
			if err != nil {
				progress.Errorf("%s", err.Error())
				return err
			}
			runtime, done := newRuntime(cfg)
			defer done()
			return cleanup.Prune(c.Context, cfg, runtime)
		},
	}
}

// Purge returns the CLI command that empties the build cache and the cache server.
func Purge() *cli.Command {
	flags := helpers.CommonFlags()
	flags = append(flags, helpers.CacheServerFlags()...)

	return &cli.Command{
		Name:  "purge",
		Usage: "Remove every build cache entry, locally and on the cache server",
		Flags: flags,
		Action: func(c *cli.Context) error {
			cfg, err := config.BuildCacheConfig(c)
			if err != nil {
				progress.Errorf("%s", err.Error())
				return err
			}
			runtime, done := newRuntime(cfg)
			defer done()
			return cleanup.Purge(c.Context, cfg, runtime)
		},
	}
}
