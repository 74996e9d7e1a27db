package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/joss/lumina/internal/client"
	"github.com/joss/lumina/internal/config"
	"github.com/joss/lumina/internal/render"
)

// defaultWidth wraps transcripts when stdout is not a terminal.
const defaultWidth = 100

// loadUserID returns the identifier stored at path, creating one on first
// use so a device keeps its history across runs.
func loadUserID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read user id: %w", err)
	}

	id := uuid.NewString()
	if err := config.EnsureDir(filepath.Dir(path)); err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("write user id: %w", err)
	}
	return id, nil
}

// resolveUserID prefers --user, then the device identifier. The server's
// shared default is used when neither is available.
func resolveUserID() string {
	if userID != "" {
		return userID
	}
	id, err := loadUserID(config.GetPaths().UserIDFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v; using shared session\n", err)
		return ""
	}
	return id
}

// loadConfig layers --config (which must exist when given) or the default
// config file over built-in defaults and the environment.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.GetPaths().ConfigFile
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return config.Load(path)
}

func resolveServerURL() string {
	if serverURL != "" {
		return serverURL
	}
	return config.Env().ServerURL
}

// newClient builds an API client that forwards locally configured keys.
func newClient() *client.Client {
	return client.New(resolveServerURL(),
		client.WithUserID(resolveUserID()),
		client.WithCredentials(config.Env().Credentials()),
	)
}

func newRenderer(out io.Writer) *render.Renderer {
	width := defaultWidth
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}
	return render.New(out, !noColor, width)
}

// expandPaths resolves each argument as a doublestar glob relative to the
// working directory. Arguments without glob syntax are kept as-is so a
// missing file is reported by the caller.
func expandPaths(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, pattern := range patterns {
		if !hasMeta(pattern) {
			add(pattern)
			continue
		}
		base, rel := doublestar.SplitPattern(filepath.ToSlash(pattern))
		var matches []string
		err := doublestar.GlobWalk(os.DirFS(base), rel, func(path string, d fs.DirEntry) error {
			if !d.IsDir() {
				matches = append(matches, filepath.Join(base, path))
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %s", pattern)
		}
		sort.Strings(matches)
		for _, m := range matches {
			add(m)
		}
	}
	return out, nil
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}
