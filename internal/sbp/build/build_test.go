package build

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/greeddj/go-sbp/internal/sbp/archive"
	"github.com/greeddj/go-sbp/internal/sbp/buildcontext"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

type stubTask struct {
	name  string
	code  ReturnCode
	err   error
	panic bool
	ran   *[]string
}

func (s *stubTask) Name() string { return s.name }
func (s *stubTask) Version() int { return 1 }
func (s *stubTask) Run(context.Context) (ReturnCode, error) {
	*s.ran = append(*s.ran, s.name)
	if s.panic {
		panic("boom")
	}
	return s.code, s.err
}

type stopTracker struct {
	stopAt string
}

func (t *stopTracker) SetTaskCount(int)         {}
func (t *stopTracker) UpdateTask(n string) bool { return n != t.stopAt }
func (t *stopTracker) UpdateInfo(string) bool   { return true }

func TestReturnCodeIsSuccess(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code ReturnCode
		want bool
	}{
		{Success, true},
		{SuccessCached, true},
		{SuccessNotRun, true},
		{Error, false},
		{Exception, false},
		{Canceled, false},
		{UnsavedChanges, false},
		{MissingRequiredObjects, false},
	}
	for _, tt := range tests {
		if got := tt.code.IsSuccess(); got != tt.want {
			t.Fatalf("%s.IsSuccess() = %v, want %v", tt.code, got, tt.want)
		}
	}
	if got := ReturnCode(7).String(); got != "ReturnCode(7)" {
		t.Fatalf("unexpected name %q", got)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	t.Parallel()
	var ran []string
	tasks := []Task{
		&stubTask{name: "a", code: Success, ran: &ran},
		&stubTask{name: "b", code: SuccessNotRun, ran: &ran},
		&stubTask{name: "c", code: Error, ran: &ran},
		&stubTask{name: "d", code: Success, ran: &ran},
	}
	code, err := Run(context.Background(), tasks, nil, nil)
	if code != Error {
		t.Fatalf("expected Error, got %s", code)
	}
	if !errors.Is(err, helpers.ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}
	if len(ran) != 3 || ran[2] != "c" {
		t.Fatalf("unexpected tasks run: %v", ran)
	}
}

func TestRunConvertsErrorsToException(t *testing.T) {
	t.Parallel()
	errWrite := errors.New("write failed")
	tests := []struct {
		name string
		task *stubTask
	}{
		{name: "error", task: &stubTask{name: "write", err: errWrite}},
		{name: "panic", task: &stubTask{name: "write", panic: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var ran []string
			tt.task.ran = &ran
			code, err := Run(context.Background(), []Task{tt.task}, nil, nil)
			if code != Exception || err == nil {
				t.Fatalf("expected Exception with error, got %s %v", code, err)
			}
			if tt.task.err != nil && !errors.Is(err, errWrite) {
				t.Fatalf("expected wrapped task error, got %v", err)
			}
		})
	}
}

func TestRunCancellation(t *testing.T) {
	t.Parallel()
	var ran []string
	tasks := []Task{
		&stubTask{name: "a", ran: &ran},
		&stubTask{name: "b", ran: &ran},
	}
	code, err := Run(context.Background(), tasks, nil, &stopTracker{stopAt: "b"})
	if code != Canceled || err != nil {
		t.Fatalf("expected Canceled, got %s %v", code, err)
	}
	if len(ran) != 1 {
		t.Fatalf("expected one task to run, got %v", ran)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran = nil
	code, _ = Run(ctx, tasks, nil, nil)
	if code != Canceled || len(ran) != 0 {
		t.Fatalf("expected Canceled before any task, got %s %v", code, ran)
	}
}

type needsParameters struct {
	params *Parameters
	ids    DeterministicIdentifiers
}

func (n *needsParameters) Name() string                            { return "needs" }
func (n *needsParameters) Version() int                            { return 1 }
func (n *needsParameters) Run(context.Context) (ReturnCode, error) { return Success, nil }

func newNeedsParameters(bc *buildcontext.Context) (Task, error) {
	r := NewResolver(bc)
	task := &needsParameters{
		params: Require[*Parameters](r),
		ids:    Optional[DeterministicIdentifiers](r),
	}
	return task, r.Err()
}

func TestValidate(t *testing.T) {
	t.Parallel()

	bc := NewContext()
	_, code, err := Validate(bc, []TaskFactory{newNeedsParameters})
	if code != MissingRequiredObjects || !errors.Is(err, helpers.ErrContextObjectMissing) {
		t.Fatalf("expected MissingRequiredObjects, got %s %v", code, err)
	}

	if err := bc.Set(NewParameters("StandaloneLinux64", "Standalone", t.TempDir())); err != nil {
		t.Fatalf("set parameters: %v", err)
	}
	if err := bc.Set(Unity5PackedIdentifiers{}); err != nil {
		t.Fatalf("set identifiers: %v", err)
	}
	tasks, code, err := Validate(bc, []TaskFactory{newNeedsParameters})
	if code != Success || err != nil || len(tasks) != 1 {
		t.Fatalf("expected one valid task, got %s %v %d", code, err, len(tasks))
	}
	if tasks[0].(*needsParameters).ids == nil {
		t.Fatalf("expected identifiers resolved through their capability")
	}

	if _, code, _ := Validate(bc, nil); code != Exception {
		t.Fatalf("expected Exception for empty task list, got %s", code)
	}
}

func TestDuplicateAddress(t *testing.T) {
	t.Parallel()
	a := hashing.Calculate("a").ToGUID()
	b := hashing.Calculate("b").ToGUID()
	c := NewBundleBuildContent(map[string][]hashing.GUID{"bundle": {a, b}}, nil)
	c.Addresses[a] = "hero"
	c.Addresses[b] = "villain"
	if err := c.ValidateAddresses(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Addresses[b] = "hero"
	if err := c.ValidateAddresses(); !errors.Is(err, helpers.ErrDuplicateAddress) {
		t.Fatalf("expected ErrDuplicateAddress, got %v", err)
	}
}

func TestEngineSatisfies(t *testing.T) {
	t.Parallel()
	tests := []struct {
		version    string
		constraint string
		want       bool
	}{
		{"2022.3.10f1", ClusterLayoutConstraint, true},
		{"2021.3.1f1", ClusterLayoutConstraint, false},
		{"2022.2", ClusterLayoutConstraint, true},
		{"6000.0.23f1", SortedClusterObjectsConstraint, true},
		{"2023.2.0b1", SortedClusterObjectsConstraint, false},
		{"", SortedClusterObjectsConstraint, true},
	}
	for _, tt := range tests {
		got, err := EngineSatisfies(tt.version, tt.constraint)
		if err != nil {
			t.Fatalf("EngineSatisfies(%q): %v", tt.version, err)
		}
		if got != tt.want {
			t.Fatalf("EngineSatisfies(%q, %q) = %v, want %v", tt.version, tt.constraint, got, tt.want)
		}
	}
	if _, err := EngineSatisfies("unity", ClusterLayoutConstraint); !errors.Is(err, helpers.ErrEngineVersionUnsupported) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if err := RequireEngine("2020.1.0f1", ClusterLayoutConstraint, "clusters"); !errors.Is(err, helpers.ErrEngineVersionUnsupported) {
		t.Fatalf("expected unsupported engine, got %v", err)
	}
}

func TestIdentifiers(t *testing.T) {
	t.Parallel()
	guid := hashing.Calculate("prefab").ToGUID()
	first := content.ObjectIdentifier{GUID: guid, LocalIdentifierInFile: 1, FileType: content.SerializedAssetType}
	second := content.ObjectIdentifier{GUID: guid, LocalIdentifierInFile: 2, FileType: content.SerializedAssetType}

	unity5 := Unity5PackedIdentifiers{}
	if unity5.SerializationIndexFromObjectIdentifier(first) != unity5.SerializationIndexFromObjectIdentifier(first) {
		t.Fatalf("identifiers are not stable")
	}
	if unity5.SerializationIndexFromObjectIdentifier(first) == unity5.SerializationIndexFromObjectIdentifier(second) {
		t.Fatalf("distinct objects share an identifier")
	}
	if got := unity5.GenerateInternalFileName("bundle"); len(got) != len("CAB-")+32 {
		t.Fatalf("unexpected internal name %q", got)
	}

	prefab := PrefabPackedIdentifiers{}
	a := uint64(prefab.SerializationIndexFromObjectIdentifier(first))
	b := uint64(prefab.SerializationIndexFromObjectIdentifier(second))
	if a>>32 != b>>32 {
		t.Fatalf("objects of one asset are not packed together: %x %x", a, b)
	}
	if a == b {
		t.Fatalf("distinct objects share an identifier")
	}
	if _, ok := DefaultIdentifiers(true).(PrefabPackedIdentifiers); !ok {
		t.Fatalf("contiguous bundles should use prefab packed identifiers")
	}
}

func TestParameters(t *testing.T) {
	t.Parallel()
	out := t.TempDir()
	p := NewParameters("StandaloneLinux64", "Standalone", out)
	p.PerBundleCompression = map[string]archive.Compression{"raw": archive.Uncompressed}
	if got := p.GetCompressionForIdentifier("raw"); got != archive.Uncompressed {
		t.Fatalf("expected override, got %s", got)
	}
	if got := p.GetCompressionForIdentifier("other"); got != archive.LZ4 {
		t.Fatalf("expected default LZ4, got %s", got)
	}
	if got := p.GetOutputFilePathForIdentifier("a/b"); got != filepath.Join(out, "a", "b") {
		t.Fatalf("unexpected output path %q", got)
	}
	if p.IsNoCache() || p.IsRefresh() {
		t.Fatalf("default parameters should read and write the cache")
	}
	if p.MaxCacheSizeBytes() != int64(helpers.DefaultMaxCacheSizeGB)*helpers.BytesPerGigabyte {
		t.Fatalf("unexpected cache size %d", p.MaxCacheSizeBytes())
	}
}
