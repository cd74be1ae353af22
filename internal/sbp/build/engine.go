package build

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

const (
	// ClusterLayoutConstraint is the engine range that supports clustered content files.
	ClusterLayoutConstraint = ">= 2022.2"
	// SortedClusterObjectsConstraint is the engine range that sorts cluster objects by identifier.
	SortedClusterObjectsConstraint = ">= 6000.0"
)

// engine versions look like 2022.3.10f1; only the numeric prefix is a version.
var engineVersionRe = regexp.MustCompile(`^(\d+)(\.\d+)?(\.\d+)?`)

// ParseEngineVersion parses the numeric part of an engine version string.
func ParseEngineVersion(value string) (*semver.Version, error) {
	m := engineVersionRe.FindString(strings.TrimSpace(value))
	if m == "" {
		return nil, fmt.Errorf("%w: %q", helpers.ErrEngineVersionUnsupported, value)
	}
	return semver.NewVersion(m)
}

// EngineSatisfies reports whether engineVersion is within constraint.
// An empty engine version means the newest engine.
func EngineSatisfies(engineVersion, constraint string) (bool, error) {
	if engineVersion == "" {
		return true, nil
	}
	v, err := ParseEngineVersion(engineVersion)
	if err != nil {
		return false, err
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}

// RequireEngine fails when engineVersion is outside constraint.
func RequireEngine(engineVersion, constraint, feature string) error {
	ok, err := EngineSatisfies(engineVersion, constraint)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s needs engine %s, got %s", helpers.ErrEngineVersionUnsupported, feature, constraint, engineVersion)
	}
	return nil
}
