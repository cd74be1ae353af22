package tasks

import (
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"slices"

	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/buildcontext"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

const generateLinkXMLVersion = 1

// editor-only types are preserved through the runtime type that loads them.
var linkTypeConversions = map[content.TypeInfo]content.TypeInfo{
	{Assembly: "UnityEditor", Name: "UnityEditor.Animations.AnimatorController"}: {
		Assembly: "UnityEngine.AnimationModule", Name: "UnityEngine.RuntimeAnimatorController",
	},
	{Assembly: "UnityEditor", Name: "UnityEditor.MonoScript"}: {
		Assembly: "UnityEngine.CoreModule", Name: "UnityEngine.TextAsset",
	},
}

type linkXML struct {
	XMLName    xml.Name       `xml:"linker"`
	Assemblies []linkAssembly `xml:"assembly"`
}

type linkAssembly struct {
	FullName string     `xml:"fullname,attr"`
	Types    []linkType `xml:"type"`
}

type linkType struct {
	FullName string `xml:"fullname,attr"`
	Preserve string `xml:"preserve,attr"`
}

// GenerateLinkXML writes a linker file preserving every type the build serialized.
type GenerateLinkXML struct {
	params  *build.Parameters
	results *build.BundleBuildResults
}

// NewGenerateLinkXML builds the task from bc.
func NewGenerateLinkXML(bc *buildcontext.Context) (build.Task, error) {
	r := build.NewResolver(bc)
	t := &GenerateLinkXML{
		params:  build.Require[*build.Parameters](r),
		results: build.Require[*build.BundleBuildResults](r),
	}
	return t, r.Err()
}

// Name implements build.Task.
func (t *GenerateLinkXML) Name() string { return "GenerateLinkXml" }

// Version implements build.Task.
func (t *GenerateLinkXML) Version() int { return generateLinkXMLVersion }

// Run implements build.Task.
func (t *GenerateLinkXML) Run(_ context.Context) (build.ReturnCode, error) {
	if !t.params.WriteLinkXML {
		return build.SuccessNotRun, nil
	}
	var types []content.TypeInfo
	for _, name := range build.SortedKeys(t.results.WriteResults) {
		types = append(types, t.results.WriteResults[name].IncludedTypes...)
	}
	data, err := MarshalLinkXML(types)
	if err != nil {
		return build.Error, err
	}
	path := t.params.GetOutputFilePathForIdentifier(helpers.LinkXMLFile)
	if err := os.MkdirAll(filepath.Dir(path), helpers.DirMod); err != nil {
		return build.Error, err
	}
	if err := helpers.WriteFileAtomic(path, data); err != nil {
		return build.Error, err
	}
	return build.Success, nil
}

// MarshalLinkXML renders types as a linker file, grouped by assembly.
func MarshalLinkXML(types []content.TypeInfo) ([]byte, error) {
	byAssembly := make(map[string][]string)
	for _, typ := range types {
		if converted, ok := linkTypeConversions[typ]; ok {
			typ = converted
		}
		if typ.Assembly == "" || typ.Name == "" || slices.Contains(byAssembly[typ.Assembly], typ.Name) {
			continue
		}
		byAssembly[typ.Assembly] = append(byAssembly[typ.Assembly], typ.Name)
	}
	doc := linkXML{}
	for _, assembly := range build.SortedKeys(byAssembly) {
		names := byAssembly[assembly]
		slices.Sort(names)
		entry := linkAssembly{FullName: assembly}
		for _, name := range names {
			entry.Types = append(entry.Types, linkType{FullName: name, Preserve: "all"})
		}
		doc.Assemblies = append(doc.Assemblies, entry)
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
