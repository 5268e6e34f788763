// Package dotenv seeds the process environment from a local env file so the
// ghostwrite binary can run outside a managed deployment. Real environment
// variables always win over file values.
package dotenv

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultPath is consulted by Load when GHOSTWRITE_ENV_FILE is unset.
const DefaultPath = ".env"

// Load reads the env file named by GHOSTWRITE_ENV_FILE, falling back to
// DefaultPath in the working directory. A missing file is not an error.
func Load() error {
	path := os.Getenv("GHOSTWRITE_ENV_FILE")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile applies KEY=VALUE pairs from path to the process environment,
// skipping any key already set.
func LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("dotenv: open %q: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, val, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("dotenv: set %s from %q: %w", key, path, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("dotenv: read %q: %w", path, err)
	}
	return nil
}

// parseLine splits one env-file line into a key/value pair. Blank lines,
// comments, and lines without a key yield ok=false.
func parseLine(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	return key, unquote(strings.TrimSpace(val)), true
}

func unquote(s string) string {
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"':
			return s[1 : len(s)-1]
		case s[0] == '\'' && s[len(s)-1] == '\'':
			return s[1 : len(s)-1]
		}
	}
	return s
}
