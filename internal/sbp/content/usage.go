package content

import (
	"slices"

	"github.com/greeddj/go-sbp/internal/sbp/hashing"
)

// UsageTags are per-object flags that change how an object serializes.
type UsageTags uint32

const (
	// UsageLightmapped marks objects used with baked lighting.
	UsageLightmapped UsageTags = 1 << iota
	// UsageRealtimeGI marks objects used with realtime global illumination.
	UsageRealtimeGI
	// UsageSkinned marks meshes used by skinned renderers.
	UsageSkinned
	// UsageInstanced marks materials used with GPU instancing.
	UsageInstanced
)

// UsageSet maps objects to their usage tags.
type UsageSet struct {
	tags map[ObjectIdentifier]UsageTags
}

// NewUsageSet returns an empty UsageSet.
func NewUsageSet() *UsageSet {
	return &UsageSet{tags: make(map[ObjectIdentifier]UsageTags)}
}

// Set ors tags into the usage of obj.
func (u *UsageSet) Set(obj ObjectIdentifier, tags UsageTags) {
	if u.tags == nil {
		u.tags = make(map[ObjectIdentifier]UsageTags)
	}
	u.tags[obj] |= tags
}

// Get returns the usage tags of obj.
func (u *UsageSet) Get(obj ObjectIdentifier) UsageTags {
	if u == nil {
		return 0
	}
	return u.tags[obj]
}

// UnionWith merges other into u.
func (u *UsageSet) UnionWith(other *UsageSet) {
	if other == nil {
		return
	}
	for obj, tags := range other.tags {
		u.Set(obj, tags)
	}
}

// FilterTo returns the usage of objs only.
func (u *UsageSet) FilterTo(objs []ObjectIdentifier) *UsageSet {
	out := NewUsageSet()
	for _, obj := range objs {
		if tags := u.Get(obj); tags != 0 {
			out.Set(obj, tags)
		}
	}
	return out
}

// UsageEntry is one object of a UsageSet with its tags.
type UsageEntry struct {
	Object ObjectIdentifier
	Tags   UsageTags
}

// Entries returns the objects of u in identifier order.
func (u *UsageSet) Entries() []UsageEntry {
	if u == nil {
		return nil
	}
	entries := make([]UsageEntry, 0, len(u.tags))
	for obj, tags := range u.tags {
		entries = append(entries, UsageEntry{Object: obj, Tags: tags})
	}
	slices.SortFunc(entries, func(a, b UsageEntry) int { return a.Object.Compare(b.Object) })
	return entries
}

// UsageSetFromEntries rebuilds a UsageSet from Entries.
func UsageSetFromEntries(entries []UsageEntry) *UsageSet {
	u := NewUsageSet()
	for _, e := range entries {
		u.Set(e.Object, e.Tags)
	}
	return u
}

// AppendHash implements hashing.Hashable.
func (u *UsageSet) AppendHash(b *hashing.Builder) {
	if u == nil {
		b.Add(0)
		return
	}
	keys := make([]ObjectIdentifier, 0, len(u.tags))
	for obj := range u.tags {
		keys = append(keys, obj)
	}
	slices.SortFunc(keys, ObjectIdentifier.Compare)
	b.Add(len(keys))
	for _, obj := range keys {
		b.Add(obj, uint32(u.tags[obj]))
	}
}

// GlobalUsage collects lighting and fog features used anywhere in the build.
type GlobalUsage struct {
	LightmapModesUsed    uint32 `yaml:"lightmapModes"`
	FogModesUsed         uint32 `yaml:"fogModes"`
	DynamicLightmapsUsed bool   `yaml:"dynamicLightmaps"`
	ShadowMasksUsed      bool   `yaml:"shadowMasks"`
	SubtractiveUsed      bool   `yaml:"subtractive"`
}

// Or returns the union of g and other.
func (g GlobalUsage) Or(other GlobalUsage) GlobalUsage {
	return GlobalUsage{
		LightmapModesUsed:    g.LightmapModesUsed | other.LightmapModesUsed,
		FogModesUsed:         g.FogModesUsed | other.FogModesUsed,
		DynamicLightmapsUsed: g.DynamicLightmapsUsed || other.DynamicLightmapsUsed,
		ShadowMasksUsed:      g.ShadowMasksUsed || other.ShadowMasksUsed,
		SubtractiveUsed:      g.SubtractiveUsed || other.SubtractiveUsed,
	}
}

// AppendHash implements hashing.Hashable.
func (g GlobalUsage) AppendHash(b *hashing.Builder) {
	b.Add(g.LightmapModesUsed, g.FogModesUsed, g.DynamicLightmapsUsed, g.ShadowMasksUsed, g.SubtractiveUsed)
}

// BuildSettings are the global settings every serialized file depends on.
type BuildSettings struct {
	Target        string `toml:"target" yaml:"target"`
	Group         string `toml:"group" yaml:"group"`
	EngineVersion string `toml:"engine_version" yaml:"engineVersion"`
	// DisableTypeTree drops type information from serialized files.
	DisableTypeTree bool `toml:"disable_type_tree" yaml:"disableTypeTree"`
}

// GetHash128 returns the hash of the settings.
func (s BuildSettings) GetHash128() hashing.Hash128 {
	return hashing.Calculate(s.Target, s.Group, s.EngineVersion, s.DisableTypeTree).ToHash128()
}
