package tasks

import (
	"fmt"
	"strings"

	"github.com/greeddj/go-sbp/internal/sbp/build"
)

// Preset names a ready-made task list.
type Preset int

const (
	// AssetBundleCompatible builds one archive per bundle of the layout.
	AssetBundleCompatible Preset = iota
	// ContentFileCompatible builds one archive per cluster of shared objects.
	ContentFileCompatible
)

var presetNames = map[Preset]string{
	AssetBundleCompatible: "assetbundle",
	ContentFileCompatible: "contentfile",
}

// String implements fmt.Stringer.
func (p Preset) String() string {
	if name, ok := presetNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Preset(%d)", int(p))
}

// ParsePreset parses a preset name as printed by String.
func ParsePreset(value string) (Preset, error) {
	for preset, name := range presetNames {
		if strings.EqualFold(value, name) {
			return preset, nil
		}
	}
	return 0, fmt.Errorf("unknown task preset %q", value)
}

// DefaultTasks returns the task list of preset. When builtInBundle is not empty
// the builtin extra objects are packed into a bundle of that name.
func DefaultTasks(preset Preset, builtInBundle string) []build.TaskFactory {
	switch preset {
	case ContentFileCompatible:
		return []build.TaskFactory{
			NewCalculateDependencyData,
			NewClusterBuildLayout,
			NewWriteSerializedFiles,
			NewArchiveAndCompressBundles,
			NewGenerateLinkXML,
		}
	default:
		factories := []build.TaskFactory{NewCalculateDependencyData}
		if builtInBundle != "" {
			factories = append(factories, NewCreateBuiltInBundle(builtInBundle))
		}
		return append(factories,
			NewGenerateBundleLayout,
			NewWriteSerializedFiles,
			NewArchiveAndCompressBundles,
			NewAppendBundleHash,
			NewGenerateLinkXML,
		)
	}
}
