package git

import (
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// Client defines the git operations the timesheet needs.
type Client interface {
	RepoRoot(path string) (string, error)
	ChangedFiles(path string) ([]string, error)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

func (c *RealClient) RepoRoot(path string) (string, error) {
	out, err := gitCmd(path, "rev-parse", "--show-toplevel")
	return strings.TrimSpace(out), err
}

// ChangedFiles lists modified, added, and untracked files relative to the
// repository root.
func (c *RealClient) ChangedFiles(path string) ([]string, error) {
	out, err := gitCmd(path, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	return ParseStatusPorcelain(out), nil
}

// ParseStatusPorcelain extracts paths from `git status --porcelain` v1 output.
// Renames report the new path; deletions are included. The result is sorted
// and deduplicated.
func ParseStatusPorcelain(output string) []string {
	seen := make(map[string]bool)
	var files []string

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if _, after, ok := strings.Cut(path, " -> "); ok {
			path = after
		}
		if strings.HasPrefix(path, `"`) {
			if unquoted, err := strconv.Unquote(path); err == nil {
				path = unquoted
			}
		}
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		files = append(files, path)
	}
	sort.Strings(files)
	return files
}
