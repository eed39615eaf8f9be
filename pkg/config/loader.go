package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadMaster reads and validates the master config at path.
func LoadMaster(path string) (*MasterConfig, error) {
	var m MasterConfig
	if err := readYAML(path, &m); err != nil {
		return nil, err
	}
	if err := validateMaster(path, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadSandbox reads and validates one sandbox config. The sandbox name is
// derived from the file's basename (without extension).
func LoadSandbox(path string) (*SandboxConfig, error) {
	var s SandboxConfig
	if err := readYAML(path, &s); err != nil {
		return nil, err
	}
	s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := validateSandbox(path, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadChildren reads a process manifest: a mapping of process-name to
// ChildConfig.
func LoadChildren(path string) (map[string]*ChildConfig, error) {
	var raw map[string]*ChildConfig
	if err := readYAML(path, &raw); err != nil {
		return nil, err
	}
	for name, c := range raw {
		if err := ValidateNamePart(name); err != nil {
			return nil, errf(path, "process name: %v", err)
		}
		if err := validateChild(path, name, c); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// LoadContainer reads the in-image ContainerConfig. imageRoot is the
// mounted image's root on the host side (<mount_dir> in the knot, or the
// image directory when checked offline); relPath is ChildConfig.Config,
// an absolute path *inside* the image.
func LoadContainer(imageRoot, relPath string) (*ContainerConfig, error) {
	full := filepath.Join(imageRoot, relPath)
	// relPath is documented as absolute-inside-the-image; filepath.Join
	// with a leading "/" component still resolves relative to imageRoot,
	// but guard against a path that climbs back out via "..".
	if !strings.HasPrefix(filepath.Clean(full)+string(filepath.Separator), filepath.Clean(imageRoot)+string(filepath.Separator)) {
		return nil, errf(full, "container config path escapes image root")
	}
	var c ContainerConfig
	if err := readYAML(full, &c); err != nil {
		return nil, err
	}
	if err := validateContainer(full, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// EncodeChildConfig produces the compact, deterministic JSON carried on the
// knot's --config argv. Fields serialize in struct-declaration order via
// encoding/json, which is stable across repeated calls with equal values —
// the property the tree's config-equivalence check on reload relies on.
func EncodeChildConfig(c *ChildConfig) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode child config: %w", err)
	}
	return string(b), nil
}

// DecodeChildConfig parses the JSON produced by EncodeChildConfig.
func DecodeChildConfig(s string) (*ChildConfig, error) {
	var c ChildConfig
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, fmt.Errorf("decode child config: %w", err)
	}
	return &c, nil
}

// Canonicalize returns a copy of c with Instances coerced to 1, so that the
// desired set's stored JSON compares equal to what is actually passed to a
// single knot instance regardless of the manifest's replica count.
func Canonicalize(c *ChildConfig) *ChildConfig {
	cp := *c
	cp.Instances = 1
	return &cp
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errf(path, "read: %v", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errf(path, "parse: %v", err)
	}
	return nil
}
