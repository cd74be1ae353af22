package tasks

import (
	"context"
	"slices"

	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/buildcontext"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

const createBuiltInBundleVersion = 1

var builtInExtraGUID = hashing.MustParseGUID(helpers.BuiltInExtraGUID)

// CreateBuiltInBundle pins every builtin extra object the build references into one bundle.
type CreateBuiltInBundle struct {
	deps       *build.DependencyData
	layout     *build.BundleExplicitObjectLayout
	bundleName string
}

// NewCreateBuiltInBundle returns a factory for a task that places builtin objects into bundleName.
func NewCreateBuiltInBundle(bundleName string) build.TaskFactory {
	return func(bc *buildcontext.Context) (build.Task, error) {
		r := build.NewResolver(bc)
		t := &CreateBuiltInBundle{
			deps:       build.Require[*build.DependencyData](r),
			layout:     build.Require[*build.BundleExplicitObjectLayout](r),
			bundleName: bundleName,
		}
		return t, r.Err()
	}
}

// Name implements build.Task.
func (t *CreateBuiltInBundle) Name() string { return "CreateBuiltInBundle" }

// Version implements build.Task.
func (t *CreateBuiltInBundle) Version() int { return createBuiltInBundleVersion }

// Run implements build.Task.
func (t *CreateBuiltInBundle) Run(_ context.Context) (build.ReturnCode, error) {
	var builtIn []content.ObjectIdentifier
	collect := func(objs []content.ObjectIdentifier) {
		for _, obj := range objs {
			if obj.GUID == builtInExtraGUID && !slices.Contains(builtIn, obj) {
				builtIn = append(builtIn, obj)
			}
		}
	}
	for _, guid := range build.SortedGUIDs(t.deps.AssetInfo) {
		collect(t.deps.AssetInfo[guid].ReferencedObjects)
	}
	for _, guid := range build.SortedGUIDs(t.deps.SceneInfo) {
		collect(t.deps.SceneInfo[guid].ReferencedObjects)
	}
	if len(builtIn) == 0 {
		return build.SuccessNotRun, nil
	}

	if t.layout.ExplicitObjectLocation == nil {
		t.layout.ExplicitObjectLocation = make(map[content.ObjectIdentifier]string, len(builtIn))
	}
	for _, obj := range builtIn {
		t.layout.ExplicitObjectLocation[obj] = t.bundleName
	}
	return build.Success, nil
}
