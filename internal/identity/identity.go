// Package identity resolves who merge commits are attributed to. The daemon
// detects the committer from git config once and caches it under the data
// home so attribution stays stable even if the global config changes later.
package identity

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Committer is the identity stamped on merge commits.
type Committer struct {
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
	Source string `yaml:"source,omitempty"` // e.g. "git"
}

// DetectFromGit reads `git config user.name` and `git config user.email`
// (in repoDir, or global if repoDir is empty). A missing key leaves the
// corresponding field empty rather than failing.
func DetectFromGit(repoDir string) Committer {
	c := Committer{Source: "git"}
	if name, err := gitConfig(repoDir, "user.name"); err == nil {
		c.Name = name
	}
	if email, err := gitConfig(repoDir, "user.email"); err == nil {
		c.Email = email
	}
	return c
}

func gitConfig(repoDir, key string) (string, error) {
	cmd := exec.Command("git", "config", "--get", key)
	if repoDir != "" {
		cmd.Dir = repoDir
	}
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Path returns the cached identity file: <home>/identity.yaml.
func Path(home string) string {
	return filepath.Join(home, "identity.yaml")
}

// Load reads the cached committer. A missing file returns (nil, nil).
func Load(home string) (*Committer, error) {
	data, err := os.ReadFile(Path(home))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var c Committer
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save writes the committer to <home>/identity.yaml.
func Save(home string, c *Committer) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(home), data, 0o644)
}

// Resolve returns the cached committer, detecting and caching one from git
// config on first use.
func Resolve(home, repoDir string) (Committer, error) {
	if c, err := Load(home); err != nil {
		return Committer{}, err
	} else if c != nil {
		return *c, nil
	}
	c := DetectFromGit(repoDir)
	if err := Save(home, &c); err != nil {
		return Committer{}, err
	}
	return c, nil
}
