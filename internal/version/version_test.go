package version

import (
	"strings"
	"testing"
)

func TestFullIncludesVersionAndCommit(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, "shellcache ") || !strings.Contains(full, Version) || !strings.Contains(full, Commit) {
		t.Fatalf("unexpected version string %q", full)
	}
}
