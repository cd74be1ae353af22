package assetdb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

const (
	defaultAssembly = "UnityEngine.CoreModule"
	builtinRef      = "builtin"
	resourcesRef    = "resources"
)

// manifest is the layout of assets.yml.
type manifest struct {
	Assets    []assetEntry        `yaml:"assets"`
	Scenes    []sceneEntry        `yaml:"scenes"`
	Builtin   []objectEntry       `yaml:"builtin"`
	Resources []objectEntry       `yaml:"resources"`
	Bundles   map[string][]string `yaml:"bundles"`
}

type assetEntry struct {
	GUID    string        `yaml:"guid"`
	Path    string        `yaml:"path"`
	Address string        `yaml:"address"`
	Objects []objectEntry `yaml:"objects"`
}

type sceneEntry struct {
	GUID        string              `yaml:"guid"`
	Path        string              `yaml:"path"`
	References  []string            `yaml:"references"`
	GlobalUsage content.GlobalUsage `yaml:"globalUsage"`
}

// objectEntry describes one object. References use the form <asset>#<lfid>,
// where <asset> is a path, a GUID, "builtin" or "resources".
type objectEntry struct {
	LFID       int64    `yaml:"lfid"`
	Type       string   `yaml:"type"`
	Assembly   string   `yaml:"assembly"`
	Data       string   `yaml:"data"`
	Stream     string   `yaml:"stream"`
	References []string `yaml:"references"`
	Usage      []string `yaml:"usage"`
	// Engine is a version constraint; the object only exists for matching engines.
	Engine string `yaml:"engine"`
}

// AppendHash implements hashing.Hashable.
func (e objectEntry) AppendHash(b *hashing.Builder) {
	b.Add(e.LFID, e.Type, e.Assembly, e.Data, e.Stream, e.References, e.Usage, e.Engine)
}

var usageNames = map[string]content.UsageTags{
	"lightmapped": content.UsageLightmapped,
	"realtimegi":  content.UsageRealtimeGI,
	"skinned":     content.UsageSkinned,
	"instanced":   content.UsageInstanced,
}

func parseUsage(names []string) (content.UsageTags, error) {
	var tags content.UsageTags
	for _, name := range names {
		tag, ok := usageNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("%w: unknown usage %q", helpers.ErrManifestInvalid, name)
		}
		tags |= tag
	}
	return tags, nil
}

func (e objectEntry) validate(owner string) error {
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("%w: object %s#%d has no type", helpers.ErrManifestInvalid, owner, e.LFID)
	}
	if e.Engine != "" {
		if _, err := semver.NewConstraint(e.Engine); err != nil {
			return fmt.Errorf("%w: object %s#%d: engine %q: %w", helpers.ErrManifestInvalid, owner, e.LFID, e.Engine, err)
		}
	}
	return nil
}

func (e objectEntry) typeInfo() content.TypeInfo {
	assembly := strings.TrimSpace(e.Assembly)
	if assembly == "" {
		assembly = defaultAssembly
	}
	return content.TypeInfo{Assembly: assembly, Name: strings.TrimSpace(e.Type)}
}

func (e objectEntry) payload(owner string) []byte {
	if e.Data != "" {
		return []byte(e.Data)
	}
	return []byte(owner + "#" + strconv.FormatInt(e.LFID, 10))
}

// splitRef splits <asset>#<lfid>.
func splitRef(ref string) (string, int64, error) {
	i := strings.LastIndexByte(ref, '#')
	if i <= 0 {
		return "", 0, fmt.Errorf("%w: reference %q is not <asset>#<lfid>", helpers.ErrManifestInvalid, ref)
	}
	lfid, err := strconv.ParseInt(ref[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: reference %q: %w", helpers.ErrManifestInvalid, ref, err)
	}
	return strings.TrimSpace(ref[:i]), lfid, nil
}
