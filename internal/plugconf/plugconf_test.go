package plugconf

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/sftphook/pkg/plugin"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sftp_plugin_conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadStripsCommentsAndBlanks(t *testing.T) {
	path := writeConfig(t, "# header\n\n   \n  audit AFTER\n\tdeny INSTEAD\n#tail\n")

	buf, err := Load(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "audit AFTER\ndeny INSTEAD\n", string(buf))
}

func TestLoadTerminatesLastLine(t *testing.T) {
	buf, err := LoadReader(strings.NewReader("audit"), 4)
	require.NoError(t, err)
	assert.Equal(t, "audit\n", string(buf))
}

func TestLoadEmpty(t *testing.T) {
	buf, err := LoadReader(strings.NewReader("# nothing here\n\n"), 4)
	require.NoError(t, err)
	assert.Empty(t, buf)

	entries, err := Parse(buf, DefaultParseOptions())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadTooManyPlugins(t *testing.T) {
	_, err := LoadReader(strings.NewReader("a\nb\nc\n"), 2)
	assert.ErrorIs(t, err, ErrTooManyPlugins)

	_, err = LoadReader(strings.NewReader("a\nb\n# c\n"), 2)
	assert.NoError(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent"), 0)
	assert.ErrorIs(t, err, ErrOpen)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadLongLine(t *testing.T) {
	name := strings.Repeat("x", 128*1024)
	buf, err := LoadReader(strings.NewReader(name+" AFTER\n"), 1)
	require.NoError(t, err)

	entries, err := Parse(buf, DefaultParseOptions())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, name, entries[0].Name)
}

func TestParse(t *testing.T) {
	buf := []byte("audit\ndeny INSTEAD\nlog\t AFTER\nprep   BEFORE  \n")

	entries, err := Parse(buf, DefaultParseOptions())
	require.NoError(t, err)

	want := []Entry{
		{Name: "audit", Sequence: plugin.SequenceBefore, Defaulted: true, Line: 1},
		{Name: "deny", Sequence: plugin.SequenceInstead, Line: 2},
		{Name: "log", Sequence: plugin.SequenceAfter, Line: 3},
		{Name: "prep", Sequence: plugin.SequenceBefore, Line: 4},
	}
	assert.Equal(t, want, entries)
}

func TestParseDoesNotModifyBuffer(t *testing.T) {
	buf := []byte("audit AFTER\ndeny\n")
	orig := string(buf)
	_, err := Parse(buf, DefaultParseOptions())
	require.NoError(t, err)
	assert.Equal(t, orig, string(buf))
}

func TestParseCRLF(t *testing.T) {
	buf, err := LoadReader(strings.NewReader("audit AFTER\r\ndeny\r\n"), 0)
	require.NoError(t, err)

	entries, err := Parse(buf, DefaultParseOptions())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, plugin.SequenceAfter, entries[0].Sequence)
	assert.Equal(t, "deny", entries[1].Name)
	assert.True(t, entries[1].Defaulted)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		buf  string
		want error
		line int
	}{
		{"bad name char", "au-dit AFTER\n", ErrInvalidName, 1},
		{"dotted name", "ok\nlib.so\n", ErrInvalidName, 2},
		{"bad sequence char", "audit AFT-ER\n", ErrInvalidSequence, 1},
		{"lowercase sequence", "audit after\n", ErrUnknownSequence, 1},
		{"unknown sequence", "audit MAYBE\n", ErrUnknownSequence, 1},
		{"trailing data", "audit AFTER extra\n", ErrTrailingData, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Parse([]byte(tt.buf), DefaultParseOptions())
			assert.Nil(t, entries)
			require.ErrorIs(t, err, tt.want)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.line, pe.Line)
		})
	}
}

func TestParseStrictSequence(t *testing.T) {
	strict := ParseOptions{DefaultSequence: plugin.SequenceUnknown}

	_, err := Parse([]byte("audit AFTER\ndeny\n"), strict)
	assert.ErrorIs(t, err, ErrMissingSequence)

	entries, err := Parse([]byte("audit AFTER\ndeny INSTEAD\n"), strict)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestReadFile(t *testing.T) {
	path := writeConfig(t, "# plugins\naudit AFTER\n")
	entries, err := ReadFile(path, 0, DefaultParseOptions())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "audit", entries[0].Name)

	bad := writeConfig(t, "audit LATER\n")
	_, err = ReadFile(bad, 0, DefaultParseOptions())
	assert.ErrorIs(t, err, ErrUnknownSequence)
	assert.Contains(t, err.Error(), bad)
}
