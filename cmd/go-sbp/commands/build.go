package commands

import (
	"io"
	"log"

	"github.com/greeddj/go-sbp/cmd/go-sbp/helpers"
	"github.com/greeddj/go-sbp/internal/progress"
	"github.com/greeddj/go-sbp/internal/sbp/config"
	"github.com/greeddj/go-sbp/internal/sbp/fetch"
	"github.com/greeddj/go-sbp/internal/sbp/infra"
	"github.com/greeddj/go-sbp/internal/sbp/project"
	"github.com/urfave/cli/v2"
)

// Build returns the CLI command that builds the bundles of a project.
func Build() *cli.Command {
	flags := helpers.CommonFlags()
	flags = append(flags, helpers.BuildFlags()...)
	flags = append(flags, helpers.CacheServerFlags()...)

	return &cli.Command{
		Name:    "build",
		Aliases: []string{"b"},
		Usage:   "Build asset bundles from the project manifest",
		Flags:   flags,
		Action: func(c *cli.Context) error {
			cfg, err := config.BuildConfig(c)
			if err != nil {
				progress.Errorf("%s", err.Error())
				return err
			}
			runtime, done := newRuntime(cfg)
			defer done()
			return project.Start(c.Context, cfg, runtime)
		},
	}
}

// newRuntime sets up progress output and the HTTP client for cfg.
func newRuntime(cfg *config.Config) (*infra.Infra, func()) {
	p := progress.New(cfg.Verbose, cfg.Quiet)
	if cfg.Verbose {
		log.SetOutput(p)
	} else {
		log.SetOutput(io.Discard)
	}
	runtime := infra.New(p, fetch.New(cfg.Timeout))
	runtime.DebugConfig(cfg)
	return runtime, p.Close
}
