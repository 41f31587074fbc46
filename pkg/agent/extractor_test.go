package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenExtractor(t *testing.T) {
	e := NewTokenExtractor()

	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{
			name:   "tool calls",
			output: "● Update(src/app.go)\n● Write(docs/README.md)\n● Edit( src/app.go )\n",
			want:   []string{"docs/README.md", "src/app.go"},
		},
		{
			name:   "sorted and deduplicated",
			output: "Write(z.go)\nWrite(a.go)\nWrite(z.go)\n",
			want:   []string{"a.go", "z.go"},
		},
		{
			name:   "several tokens on one line",
			output: "Edit(a.go) then Write(b.go)",
			want:   []string{"a.go", "b.go"},
		},
		{
			name:   "created without closing paren is dropped",
			output: "Created main.go\n",
			want:   []string{},
		},
		{
			name:   "created with a later paren",
			output: "Created notes.txt (12 lines)",
			want:   []string{"notes.txt (12 lines"},
		},
		{
			name:   "empty name ignored",
			output: "Edit()\n",
			want:   []string{},
		},
		{
			name:   "no tokens",
			output: "Reading files...\n",
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Extract(tt.output))
		})
	}
}

func TestMergeFiles(t *testing.T) {
	merged, added := mergeFiles([]string{"b.go"}, []string{"a.go", "b.go"})
	assert.True(t, added)
	assert.Equal(t, []string{"a.go", "b.go"}, merged)

	existing := []string{"a.go"}
	merged, added = mergeFiles(existing, []string{"a.go"})
	assert.False(t, added)
	assert.Equal(t, existing, merged)

	merged, added = mergeFiles(existing, nil)
	assert.False(t, added)
	assert.Equal(t, existing, merged)
}
