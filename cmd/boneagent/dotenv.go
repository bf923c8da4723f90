package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// loadDotEnvFiles loads BONE_* style variables from .env files without
// overriding variables that are already set. Earlier files win:
// the explicit envFile, then <dataDir>/.env, then ./.env.
func loadDotEnvFiles(envFile string, dataDir string) error {
	paths := make([]string, 0, 3)
	if strings.TrimSpace(envFile) != "" {
		paths = append(paths, envFile)
	}
	if strings.TrimSpace(dataDir) != "" {
		paths = append(paths, filepath.Join(dataDir, ".env"))
	}
	paths = append(paths, ".env")

	var lastErr error
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := loadDotEnvFile(p); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func loadDotEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, val, ok := parseDotEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	return scanner.Err()
}

func parseDotEnvLine(raw string) (string, string, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	return key, strings.Trim(strings.TrimSpace(val), `"'`), true
}
