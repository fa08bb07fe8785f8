// Package conf reads simple line-oriented configuration files. Blank lines
// and comments are skipped, a trailing backslash continues a line, and each
// remaining line is split into shell-style words before being handed to the
// caller.
package conf

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
)

// LineFunc receives each logical configuration line along with its word
// split and the line number it started on.
type LineFunc func(line string, words []string, lineno int) error

// Parse reads configuration lines from r and calls fn for each one.
func Parse(r io.Reader, fn LineFunc) error {
	scanner := bufio.NewScanner(r)

	var pending string
	var startLine int
	lineno := 0

	for scanner.Scan() {
		lineno++
		line := scanner.Text()

		if pending == "" {
			startLine = lineno
		}

		// A trailing backslash continues the logical line.
		if strings.HasSuffix(line, "\\") {
			pending += strings.TrimSuffix(line, "\\")
			continue
		}

		logical := strings.TrimSpace(pending + line)
		pending = ""

		if logical == "" || strings.HasPrefix(logical, "#") {
			continue
		}

		words, err := shellquote.Split(logical)
		if err != nil {
			return fmt.Errorf("Failed to parse line %d: %w", startLine, err)
		}

		if len(words) == 0 {
			continue
		}

		err = fn(logical, words, startLine)
		if err != nil {
			return err
		}
	}

	if pending != "" {
		return fmt.Errorf("Unterminated line continuation at line %d", startLine)
	}

	return scanner.Err()
}

// ParseFile reads configuration lines from the file at path. A missing file
// is not an error; the function simply returns without calling fn.
func ParseFile(path string, fn LineFunc) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	defer func() { _ = f.Close() }()

	return Parse(f, fn)
}
