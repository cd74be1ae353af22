package helpers

import "os"

// defaultProjectDir returns the working directory, or "." when it is unknown.
func defaultProjectDir() string {
	wd, err := os.Getwd()
	if err != nil || wd == "" {
		return "."
	}
	return wd
}
