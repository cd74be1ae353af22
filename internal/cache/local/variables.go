package local

import "errors"

var (
	errServerDirEmpty     = errors.New("cache server directory is empty")
	errArtifactKeyEmpty   = errors.New("artifact key is empty")
	errArtifactKeyInvalid = errors.New("artifact key escapes the cache server directory")
)

const (
	artifactsDir = "artifacts"
	stagingDir   = "staging"
)
