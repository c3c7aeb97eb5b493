package pathmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Match(t *testing.T) {
	m, err := Compile([]string{"vendor/", "*.bak", "docs/*.md", `re:^build/.*\.o$`})
	require.NoError(t, err)

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"directory prefix", "vendor/foo.go", true},
		{"nested directory", "src/vendor/foo.go", true},
		{"directory name prefix only", "vendorized/bar.go", false},
		{"glob on base name", "old/notes.bak", true},
		{"glob on full path", "docs/readme.md", true},
		{"glob full path mismatch", "src/docs/readme.md", false},
		{"regexp", "build/x/main.o", true},
		{"regexp mismatch", "src/build/main.o", false},
		{"no match", "main.go", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, m.Match(tt.path))
		})
	}
}

func TestMatcher_MatchDir(t *testing.T) {
	m, err := Compile([]string{"node_modules/", "*.bak", "re:^tmp/"})
	require.NoError(t, err)

	assert.True(t, m.MatchDir("node_modules"))
	assert.True(t, m.MatchDir("web/node_modules"))
	assert.True(t, m.MatchDir("tmp"))
	assert.False(t, m.MatchDir("backup.bak"), "globs never prune directories")
	assert.False(t, m.MatchDir("src"))
}

func TestCompile_Invalid(t *testing.T) {
	_, err := Compile([]string{"re:("})
	assert.Error(t, err)

	_, err = Compile([]string{"[abc"})
	assert.Error(t, err)

	assert.NoError(t, Validate("*.go"))
}

func TestMatcher_Empty(t *testing.T) {
	m, err := Compile([]string{"", ""})
	require.NoError(t, err)
	assert.True(t, m.Empty())
	assert.False(t, m.Match("anything"))
}
