// Package project runs a bundle build for a project directory.
package project

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	cacheServer "github.com/greeddj/go-sbp/internal/cache"
	"github.com/greeddj/go-sbp/internal/progress"
	"github.com/greeddj/go-sbp/internal/sbp/assetdb"
	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/config"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/greeddj/go-sbp/internal/sbp/infra"
	"github.com/greeddj/go-sbp/internal/sbp/pipeline"
	"github.com/greeddj/go-sbp/internal/sbp/store"
	"github.com/greeddj/go-sbp/internal/sbp/tasks"
)

// Results is the content of the results file written next to the bundles.
type Results struct {
	Target     string                         `json:"target"`
	Group      string                         `json:"group"`
	ReturnCode string                         `json:"returnCode"`
	Duration   string                         `json:"duration"`
	Bundles    map[string]build.BundleDetails `json:"bundles"`
}

// Start builds the bundles of the project described by cfg.
func Start(ctx context.Context, cfg *config.Config, runtime *infra.Infra) error {
	err := runBuild(ctx, cfg, runtime)
	if err != nil {
		runtime.Output.PersistentPrintf("❌ Error: %s", err.Error())
	}
	return err
}

func runBuild(ctx context.Context, cfg *config.Config, runtime *infra.Infra) error {
	runtime.Output.Printf("🚀 Starting build for %s", cfg.Target)
	start := runtime.Now()

	db, err := assetdb.Load(cfg.ManifestFile)
	if err != nil {
		return fmt.Errorf("failed to load manifest %s: %w", cfg.ManifestFile, err)
	}
	runtime.Output.DebugSincef(start, "manifest %s loaded", cfg.ManifestFile)

	params := cfg.Parameters()
	objects := []any{db, runtime.Output, progress.NewTracker(ctx, runtime.Output)}
	if params.UseCache {
		remote, closeRemote := cacheServer.Connect(ctx, cfg.CacheServer, runtime, runtime.Output.Warnf)
		defer closeRemote()
		if remote != nil {
			objects = append(objects, remote)
		}
	}
	defer pipeline.WaitForPrune()

	factories := tasks.DefaultTasks(cfg.Preset, cfg.BuiltInBundle)
	code, results, err := pipeline.BuildAssetBundles(ctx, params, db.Content(), factories, objects...)
	if err != nil {
		return fmt.Errorf("build finished with %s: %w", code, err)
	}
	if !code.IsSuccess() {
		return fmt.Errorf("%w: %s", helpers.ErrBuildFailed, code)
	}

	elapsed := runtime.Now().Sub(start)
	if err := writeResults(params, code, results, elapsed); err != nil {
		return err
	}
	runtime.Output.PersistentPrintf("✨ Build complete. Bundles: %d (%s)", len(results.BundleInfos), code)
	runtime.Output.DebugSincef(start, "build of %s", cfg.Target)
	return nil
}

func writeResults(params *build.Parameters, code build.ReturnCode, results *build.BundleBuildResults, elapsed time.Duration) error {
	if params.OutputFolder == "" || results == nil {
		return nil
	}
	path := filepath.Join(params.OutputFolder, helpers.ResultsFile)
	err := store.WriteJSON(path, Results{
		Target:     params.Settings.Target,
		Group:      params.Settings.Group,
		ReturnCode: code.String(),
		Duration:   elapsed.Round(time.Millisecond).String(),
		Bundles:    results.BundleInfos,
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
