package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Limits applied to configuration inputs before they reach a parser.
const (
	maxConfigBytes = 10 << 20 // config files larger than this are refused
	maxJSONDepth   = 100
	maxEnvValueLen = 10000
	maxPathLen     = 4096
)

// checkConfigPath rejects paths that should never name a config file:
// overlong ones, non-JSON/YAML extensions, and relative paths that resolve
// outside the working directory. Absolute paths are allowed as given.
func checkConfigPath(path string) error {
	if path == "" {
		return errors.New("empty config path")
	}
	if len(path) > maxPathLen {
		return fmt.Errorf("config path length %d exceeds %d", len(path), maxPathLen)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("config files must be .json, .yaml or .yml: %s", path)
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("cannot resolve path: %w", err)
	}
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		if rel, err := filepath.Rel(wd, abs); err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("relative config path escapes the working directory: %s", path)
		}
	}
	return nil
}

// readConfigFile reads a config file after checking the path, the size cap
// and that the target is a regular file.
func readConfigFile(path string) ([]byte, error) {
	if err := checkConfigPath(path); err != nil {
		return nil, fmt.Errorf("bad config path: %w", err)
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("refusing non-regular file %s", path)
	}
	if st.Size() > maxConfigBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit %d", st.Size(), maxConfigBytes)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return raw, nil
}

// writeConfigFile writes a config file owner-only after the same path and
// size checks as reads.
func writeConfigFile(path string, data []byte) error {
	if err := checkConfigPath(path); err != nil {
		return fmt.Errorf("bad config path: %w", err)
	}
	if len(data) > maxConfigBytes {
		return fmt.Errorf("config output is %d bytes, limit %d", len(data), maxConfigBytes)
	}
	return os.WriteFile(path, data, 0o600)
}

// checkEnvValue rejects environment values that are unreasonably long or
// carry null bytes. Empty values pass, the caller treats them as unset.
func checkEnvValue(key, value string) error {
	if value == "" {
		return nil
	}
	if len(value) > maxEnvValueLen {
		return fmt.Errorf("environment variable %s exceeds %d bytes", key, maxEnvValueLen)
	}
	if strings.ContainsRune(value, '\x00') {
		return fmt.Errorf("environment variable %s contains a null byte", key)
	}
	return nil
}

// checkJSONDepth bounds nesting before json.Unmarshal sees the document.
// Strings are walked byte-wise so braces inside values don't count.
func checkJSONDepth(data []byte) error {
	depth := 0
	inStr := false
	esc := false

	for _, b := range data {
		switch {
		case esc:
			esc = false
		case b == '\\' && inStr:
			esc = true
		case b == '"':
			inStr = !inStr
		case inStr:
		case b == '{' || b == '[':
			if depth++; depth > maxJSONDepth {
				return fmt.Errorf("JSON nested deeper than %d levels", maxJSONDepth)
			}
		case b == '}' || b == ']':
			if depth--; depth < 0 {
				return errors.New("unbalanced JSON: closing bracket without opener")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced JSON: %d brackets left open", depth)
	}
	return nil
}
