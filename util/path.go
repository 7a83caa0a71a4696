package util

import (
	"os"
	"strings"
)

// ExpandUser replaces a leading ~ with $HOME.
func ExpandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		path = os.Getenv("HOME") + path[1:]
	}
	return path
}
