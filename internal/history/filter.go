package history

import (
	"strings"
)

// IsTest reports whether a path lies below a directory literally named "test"
func IsTest(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == "test" {
			return true
		}
	}
	return false
}

func hasExtension(path string, exts []string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// IsSource reports whether path is a recognized source file outside test directories
func IsSource(path string, exts []string) bool {
	return hasExtension(path, exts) && !IsTest(path)
}

// TestPaths keeps the recognized test files of paths
func TestPaths(paths []string, exts []string) []string {
	var out []string
	for _, p := range paths {
		if hasExtension(p, exts) && IsTest(p) {
			out = append(out, p)
		}
	}
	return out
}
