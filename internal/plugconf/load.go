// Package plugconf reads the SFTP plugin configuration file and scans it
// into an ordered list of plugin entries.
//
// The file holds one plugin per line:
//
//	# comment
//	<name>[<blank>+<sequence>]
//
// where name and sequence are runs of [A-Za-z0-9_] and sequence is one of
// BEFORE, INSTEAD or AFTER.
package plugconf

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultPath is where the server looks for the plugin configuration.
const DefaultPath = "/etc/ssh/sftp_plugin_conf"

// DefaultMaxPlugins bounds the number of configured plugins.
const DefaultMaxPlugins = 64

var (
	// ErrOpen is returned when the configuration file cannot be read.
	ErrOpen = errors.New("open plugin config")
	// ErrTooManyPlugins is returned when the file lists more plugins than allowed.
	ErrTooManyPlugins = errors.New("too many plugins configured")
)

// Load reads the configuration at path and returns the normalized buffer:
// every non-blank, non-comment line with leading whitespace removed and
// terminated by exactly one newline.
func Load(path string, max int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrOpen, path, err)
	}
	defer f.Close()

	buf, err := LoadReader(f, max)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return buf, nil
}

// LoadReader normalizes configuration read from r. A max of zero or less
// means DefaultMaxPlugins.
func LoadReader(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxPlugins
	}

	var (
		out   bytes.Buffer
		lines int
		br    = bufio.NewReader(r)
	)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			body := bytes.TrimLeftFunc(line, isSpaceRune)
			if len(body) > 0 && body[0] != '#' {
				lines++
				if lines > max {
					return nil, fmt.Errorf("%w: more than %d", ErrTooManyPlugins, max)
				}
				out.Write(body)
				// A partial last line still gets its terminator so the
				// scanner can assume every entry ends in '\n'.
				if body[len(body)-1] != '\n' {
					out.WriteByte('\n')
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpen, err)
		}
	}
	return out.Bytes(), nil
}

func isSpaceRune(r rune) bool {
	return r < 0x80 && isSpace(byte(r))
}

// isSpace matches the C locale isspace set.
func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\t'
}

func isNameChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
