package helpers

import "time"

const (
	defaultTimeout     = 30 * time.Second
	defaultOutputPath  = "Bundles"
	defaultTarget      = "StandaloneLinux64"
	defaultGroup       = "Standalone"
	defaultPreset      = "assetbundle"
	defaultCompression = "lz4"
)
