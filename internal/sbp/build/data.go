package build

import (
	"fmt"
	"slices"

	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

// BundleBuildContent is the content of a build and its explicit bundle layout.
type BundleBuildContent struct {
	Assets []hashing.GUID
	Scenes []hashing.GUID
	// Addresses maps assets to the name they are loaded by.
	Addresses map[hashing.GUID]string
	// BundleLayout maps bundle names to the assets they hold.
	BundleLayout map[string][]hashing.GUID
}

// NewBundleBuildContent returns content for layout. Assets and scenes are taken
// from layout, scenes being the GUIDs for which isScene reports true.
func NewBundleBuildContent(layout map[string][]hashing.GUID, isScene func(hashing.GUID) bool) *BundleBuildContent {
	c := &BundleBuildContent{
		Addresses:    make(map[hashing.GUID]string),
		BundleLayout: make(map[string][]hashing.GUID, len(layout)),
	}
	for _, bundle := range SortedKeys(layout) {
		guids := slices.Clone(layout[bundle])
		c.BundleLayout[bundle] = guids
		for _, guid := range guids {
			if isScene != nil && isScene(guid) {
				c.Scenes = append(c.Scenes, guid)
			} else {
				c.Assets = append(c.Assets, guid)
			}
		}
	}
	return c
}

// DuplicateAddress returns an address used by more than one asset.
func (c *BundleBuildContent) DuplicateAddress() (string, bool) {
	if c == nil {
		return "", false
	}
	guids := make([]hashing.GUID, 0, len(c.Addresses))
	for guid := range c.Addresses {
		guids = append(guids, guid)
	}
	slices.SortFunc(guids, hashing.GUID.Compare)
	seen := make(map[string]struct{}, len(guids))
	for _, guid := range guids {
		address := c.Addresses[guid]
		if _, ok := seen[address]; ok {
			return address, true
		}
		seen[address] = struct{}{}
	}
	return "", false
}

// ValidateAddresses fails when two assets share one address.
func (c *BundleBuildContent) ValidateAddresses() error {
	if address, ok := c.DuplicateAddress(); ok {
		return fmt.Errorf("%w: '%s'", helpers.ErrDuplicateAddress, address)
	}
	return nil
}

// DependencyData is the object graph of the assets and scenes being built.
type DependencyData struct {
	AssetInfo      map[hashing.GUID]content.AssetLoadInfo
	AssetUsage     map[hashing.GUID]*content.UsageSet
	SceneInfo      map[hashing.GUID]content.SceneDependencyInfo
	SceneUsage     map[hashing.GUID]*content.UsageSet
	DependencyHash map[hashing.GUID]hashing.Hash128
	GlobalUsage    content.GlobalUsage
}

// NewDependencyData returns empty dependency data.
func NewDependencyData() *DependencyData {
	return &DependencyData{
		AssetInfo:      make(map[hashing.GUID]content.AssetLoadInfo),
		AssetUsage:     make(map[hashing.GUID]*content.UsageSet),
		SceneInfo:      make(map[hashing.GUID]content.SceneDependencyInfo),
		SceneUsage:     make(map[hashing.GUID]*content.UsageSet),
		DependencyHash: make(map[hashing.GUID]hashing.Hash128),
	}
}

// TotalGlobalUsage combines the project usage with the usage of every scene.
func (d *DependencyData) TotalGlobalUsage() content.GlobalUsage {
	usage := d.GlobalUsage
	for _, guid := range SortedGUIDs(d.SceneInfo) {
		usage = usage.Or(d.SceneInfo[guid].GlobalUsage)
	}
	return usage
}

// BundleWriteData maps objects to files and files to bundles.
type BundleWriteData struct {
	// AssetToFiles lists the internal files an asset needs, its own file first.
	AssetToFiles       map[hashing.GUID][]string
	FileToObjects      map[string][]content.ObjectIdentifier
	FileToBundle       map[string]string
	FileToUsageSet     map[string]*content.UsageSet
	FileToReferenceMap map[string]*content.ReferenceMap
	WriteOperations    []content.WriteOperation
}

// NewBundleWriteData returns empty write data.
func NewBundleWriteData() *BundleWriteData {
	return &BundleWriteData{
		AssetToFiles:       make(map[hashing.GUID][]string),
		FileToObjects:      make(map[string][]content.ObjectIdentifier),
		FileToBundle:       make(map[string]string),
		FileToUsageSet:     make(map[string]*content.UsageSet),
		FileToReferenceMap: make(map[string]*content.ReferenceMap),
	}
}

// BundleDetails describes one built bundle.
type BundleDetails struct {
	FileName     string          `json:"fileName"`
	Crc          uint32          `json:"crc"`
	Hash         hashing.Hash128 `json:"hash"`
	Dependencies []string        `json:"dependencies"`
}

// BuildResults holds the outputs of the write stage.
type BuildResults struct {
	WriteResults         map[string]content.WriteResult
	WriteResultsMetaData map[string]content.SerializedFileMetaData
}

// BundleBuildResults holds the outputs of a bundle build.
type BundleBuildResults struct {
	BuildResults
	BundleInfos map[string]BundleDetails
}

// NewBundleBuildResults returns empty results.
func NewBundleBuildResults() *BundleBuildResults {
	return &BundleBuildResults{
		BuildResults: BuildResults{
			WriteResults:         make(map[string]content.WriteResult),
			WriteResultsMetaData: make(map[string]content.SerializedFileMetaData),
		},
		BundleInfos: make(map[string]BundleDetails),
	}
}

// BundleExplicitObjectLayout pins objects to named bundles.
type BundleExplicitObjectLayout struct {
	ExplicitObjectLocation map[content.ObjectIdentifier]string
}

// NewBundleExplicitObjectLayout returns an empty layout.
func NewBundleExplicitObjectLayout() *BundleExplicitObjectLayout {
	return &BundleExplicitObjectLayout{ExplicitObjectLocation: make(map[content.ObjectIdentifier]string)}
}

// ClusterOutput records where clustering placed each object.
type ClusterOutput struct {
	ObjectToCluster map[content.ObjectIdentifier]hashing.Hash128
	ObjectToLocalID map[content.ObjectIdentifier]int64
}

// NewClusterOutput returns an empty ClusterOutput.
func NewClusterOutput() *ClusterOutput {
	return &ClusterOutput{
		ObjectToCluster: make(map[content.ObjectIdentifier]hashing.Hash128),
		ObjectToLocalID: make(map[content.ObjectIdentifier]int64),
	}
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// SortedGUIDs returns the keys of m in ascending order.
func SortedGUIDs[V any](m map[hashing.GUID]V) []hashing.GUID {
	keys := make([]hashing.GUID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, hashing.GUID.Compare)
	return keys
}
