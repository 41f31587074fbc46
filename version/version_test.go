package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoShort(t *testing.T) {
	info := Info{Name: Name, Version: "v0.3.0", Commit: "1a2b3c4d5e6f"}
	assert.Equal(t, "taskagent v0.3.0 (1a2b3c4)", info.Short())

	info.Commit = "none"
	assert.Equal(t, "taskagent v0.3.0 (none)", info.Short())
}

func TestInfoString(t *testing.T) {
	out := GetInfo().String()
	assert.Contains(t, out, "taskagent dev (none)")
	assert.Contains(t, out, "Version:\tdev")
	assert.Contains(t, out, "Build Date:")
}
