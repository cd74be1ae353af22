package build

import (
	"reflect"

	"github.com/greeddj/go-sbp/internal/sbp/buildcontext"
	"github.com/greeddj/go-sbp/internal/sbp/buildlog"
	"github.com/greeddj/go-sbp/internal/sbp/cache"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
)

// Capabilities lists the interfaces context objects are indexed under.
func Capabilities() []reflect.Type {
	return []reflect.Type{
		buildcontext.TypeOf[ProgressTracker](),
		buildcontext.TypeOf[DeterministicIdentifiers](),
		buildcontext.TypeOf[DependencyResolver](),
		buildcontext.TypeOf[buildlog.Logger](),
		buildcontext.TypeOf[cache.AssetDatabase](),
		buildcontext.TypeOf[cache.Remote](),
		buildcontext.TypeOf[content.ObjectSource](),
	}
}

// DependencyResolver computes what assets and scenes contain and reference.
type DependencyResolver interface {
	AssetDependencies(guid hashing.GUID, settings content.BuildSettings) (content.AssetLoadInfo, *content.UsageSet, error)
	SceneDependencies(guid hashing.GUID, settings content.BuildSettings) (content.SceneDependencyInfo, *content.UsageSet, error)
}

// NewContext returns a build context indexing Capabilities.
func NewContext() *buildcontext.Context {
	return buildcontext.New(Capabilities()...)
}
