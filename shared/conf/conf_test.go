package conf

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parsedLine struct {
	words  []string
	lineno int
}

func parseAll(t *testing.T, input string) []parsedLine {
	t.Helper()

	var lines []parsedLine
	err := Parse(strings.NewReader(input), func(line string, words []string, lineno int) error {
		lines = append(lines, parsedLine{words: words, lineno: lineno})
		return nil
	})
	require.NoError(t, err)

	return lines
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []parsedLine
	}{
		{
			name:  "simple directives",
			input: "name svc\ndebug 2\n",
			want: []parsedLine{
				{words: []string{"name", "svc"}, lineno: 1},
				{words: []string{"debug", "2"}, lineno: 2},
			},
		},
		{
			name:  "comments and blanks skipped",
			input: "# a comment\n\n  \nname svc\n",
			want: []parsedLine{
				{words: []string{"name", "svc"}, lineno: 4},
			},
		},
		{
			name:  "quoting",
			input: `command /bin/sh -c "sleep 60"` + "\n",
			want: []parsedLine{
				{words: []string{"command", "/bin/sh", "-c", "sleep 60"}, lineno: 1},
			},
		},
		{
			name:  "line continuation",
			input: "command sleep \\\n60\n",
			want: []parsedLine{
				{words: []string{"command", "sleep", "60"}, lineno: 1},
			},
		},
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseAll(t, tt.input))
		})
	}
}

func TestParse_Errors(t *testing.T) {
	err := Parse(strings.NewReader("bad 'quote\n"), func(string, []string, int) error {
		return nil
	})
	assert.Error(t, err)

	err = Parse(strings.NewReader("dangling \\"), func(string, []string, int) error {
		return nil
	})
	assert.Error(t, err)

	sentinel := errors.New("stop")
	err = Parse(strings.NewReader("name svc\n"), func(string, []string, int) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	// A missing file is silently fine.
	calls := 0
	err := ParseFile(filepath.Join(dir, "missing.conf"), func(string, []string, int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)

	path := filepath.Join(dir, "wardend.conf")
	require.NoError(t, os.WriteFile(path, []byte("name svc\n"), 0o644))

	var got []string
	err = ParseFile(path, func(_ string, words []string, _ int) error {
		got = words
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "svc"}, got)
}
