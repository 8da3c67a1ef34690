package cmd

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionString_InjectedValuesWin(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, BuildDate
	defer func() { Version, Commit, BuildDate = origVersion, origCommit, origDate }()

	Version = "v1.2.3"
	Commit = "abc1234"
	BuildDate = "2026-08-29T00:00:00Z"

	out := versionString()
	assert.Contains(t, out, "go-singleton v1.2.3")
	assert.Contains(t, out, "commit: abc1234")
	assert.Contains(t, out, "built:  2026-08-29T00:00:00Z")
	assert.Contains(t, out, runtime.Version())
}

func TestVersionString_DefaultsFallBackToBuildInfo(t *testing.T) {
	out := versionString()

	// Test binaries carry no ldflags and may carry no VCS stamp, but
	// the output shape must hold either way.
	assert.Contains(t, out, "go-singleton ")
	assert.Contains(t, out, "commit: ")
	assert.Contains(t, out, "built:  ")
	assert.Contains(t, out, runtime.Version())
}
