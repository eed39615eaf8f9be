package config

import (
	"path/filepath"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"lithos/pkg/idrange"
)

func validateMaster(path string, m *MasterConfig) error {
	required := map[string]string{
		"runtime_dir":      m.RuntimeDir,
		"sandboxes_dir":    m.SandboxesDir,
		"processes_dir":    m.ProcessesDir,
		"state_dir":        m.StateDir,
		"mount_dir":        m.MountDir,
		"devfs_dir":        m.DevfsDir,
		"default_log_dir":  m.DefaultLogDir,
		"config_log_dir":   m.ConfigLogDir,
	}
	for field, v := range required {
		if v == "" {
			return errf(path, "missing required field %q", field)
		}
	}
	for _, d := range []string{m.RuntimeDir, m.SandboxesDir, m.ProcessesDir, m.StateDir, m.MountDir, m.DevfsDir, m.DefaultLogDir, m.ConfigLogDir} {
		if !filepath.IsAbs(d) {
			return errf(path, "directory %q must be absolute", d)
		}
	}
	if len(m.CgroupControllers) > 0 && m.CgroupName == "" {
		return errf(path, "cgroup_controllers set without cgroup_name")
	}
	return nil
}

func validateSandbox(path string, s *SandboxConfig) error {
	if err := ValidateNamePart(s.Name); err != nil {
		return errf(path, "sandbox name: %v", err)
	}
	if s.ImageDir == "" {
		return errf(path, "missing required field %q", "image_dir")
	}
	if !filepath.IsAbs(s.ImageDir) {
		return errf(path, "image_dir must be absolute")
	}
	if len(s.AllowUsers) == 0 {
		return errf(path, "allow_users must not be empty")
	}
	if len(s.AllowGroups) == 0 {
		return errf(path, "allow_groups must not be empty")
	}
	for guest, host := range s.Readonly {
		if !filepath.IsAbs(guest) || !filepath.IsAbs(host) {
			return errf(path, "readonly_paths entry %q -> %q must be absolute", guest, host)
		}
	}
	for guest, host := range s.Writable {
		if !filepath.IsAbs(guest) || !filepath.IsAbs(host) {
			return errf(path, "writable_paths entry %q -> %q must be absolute", guest, host)
		}
	}
	if s.Bridge != nil {
		if s.Bridge.Bridge == "" || s.Bridge.Gateway == "" {
			return errf(path, "bridge config requires bridge and gateway")
		}
		if s.Bridge.Prefix <= 0 || s.Bridge.Prefix > 32 {
			return errf(path, "bridge prefix %d out of range", s.Bridge.Prefix)
		}
	}
	return nil
}

func validateChild(path, name string, c *ChildConfig) error {
	if c.Image == "" {
		return errf(path, "child %q: missing image", name)
	}
	if c.Config == "" {
		return errf(path, "child %q: missing config", name)
	}
	if !filepath.IsAbs(c.Config) {
		return errf(path, "child %q: config path %q must be absolute inside the image", name, c.Config)
	}
	if c.Instances <= 0 {
		return errf(path, "child %q: instances must be positive", name)
	}
	if c.Kind != KindDaemon && c.Kind != KindCommand {
		return errf(path, "child %q: kind must be Daemon or Command", name)
	}
	return nil
}

func validateContainer(path string, c *ContainerConfig) error {
	if c.Executable == "" {
		return errf(path, "missing required field %q", "executable")
	}
	if c.RestartTimeout < 0 {
		return errf(path, "restart_timeout must not be negative")
	}
	return nil
}

// CheckUserMapping enforces the mapping-safety contract: user_id must sit
// inside a declared uid_map range (or, absent a map, inside allow_users
// directly), and every uid_map.outside..outside+count interval must be
// entirely covered by some single allow_users range.
func CheckUserMapping(userID uint32, uidMap []specs.LinuxIDMapping, allow idrange.Set) bool {
	return checkMapping(userID, uidMap, allow)
}

// CheckGroupMapping is CheckUserMapping's symmetric counterpart for GIDs.
func CheckGroupMapping(groupID uint32, gidMap []specs.LinuxIDMapping, allow idrange.Set) bool {
	return checkMapping(groupID, gidMap, allow)
}

func checkMapping(id uint32, m []specs.LinuxIDMapping, allow idrange.Set) bool {
	if len(m) == 0 {
		return allow.ContainsValue(id)
	}
	insideOK := false
	for _, e := range m {
		inside := idrange.Range{First: e.ContainerID, Count: e.Size}
		if inside.Contains(id) {
			insideOK = true
		}
		outside := idrange.Range{First: e.HostID, Count: e.Size}
		if !allow.CoversRange(outside) {
			return false
		}
	}
	return insideOK
}

// ValidateContainerAgainstSandbox cross-checks a loaded ContainerConfig
// against the sandbox that will host it: the UID/GID mapping-safety
// invariant, and that declared kind matches the manifest's.
func ValidateContainerAgainstSandbox(c *ContainerConfig, childKind ChildKind, s *SandboxConfig) error {
	if c.Kind != childKind {
		return errf("", "container kind %q does not match manifest kind %q", c.Kind, childKind)
	}
	if !CheckUserMapping(c.UserID, c.UIDMap, s.AllowUsers) {
		return errf("", "user_id %d is not covered by allow_users or uid_map", c.UserID)
	}
	if !CheckGroupMapping(c.GroupID, c.GIDMap, s.AllowGroups) {
		return errf("", "group_id %d is not covered by allow_groups or gid_map", c.GroupID)
	}
	return nil
}

// resolveGuestPath picks the longest guest prefix in maps that covers
// guestPath; ResolveReadonly and ResolvePersistent build on it.
func resolveGuestPath(maps map[string]string, guestPath string) (hostPrefix, guestPrefix string, ok bool) {
	best := -1
	for guestP, hostP := range maps {
		if guestPath == guestP || strings.HasPrefix(guestPath, strings.TrimRight(guestP, "/")+"/") {
			if len(guestP) > best {
				best = len(guestP)
				hostPrefix, guestPrefix = hostP, guestP
			}
		}
	}
	return hostPrefix, guestPrefix, best >= 0
}

// ResolveReadonly resolves a Readonly volume's guest path against the
// sandbox's readonly paths first, falling back to its writable paths (a
// writable host location may still be mounted read-only into a container).
func ResolveReadonly(s *SandboxConfig, guestPath string) (string, error) {
	if hostPrefix, guestPrefix, ok := resolveGuestPath(s.Readonly, guestPath); ok {
		return rebase(hostPrefix, guestPrefix, guestPath), nil
	}
	if hostPrefix, guestPrefix, ok := resolveGuestPath(s.Writable, guestPath); ok {
		return rebase(hostPrefix, guestPrefix, guestPath), nil
	}
	return "", errf("", "guest path %q is not covered by any readonly or writable mapping", guestPath)
}

// ResolvePersistent resolves a Persistent volume's guest path against the
// sandbox's writable paths.
func ResolvePersistent(s *SandboxConfig, guestPath string) (string, error) {
	if hostPrefix, guestPrefix, ok := resolveGuestPath(s.Writable, guestPath); ok {
		return rebase(hostPrefix, guestPrefix, guestPath), nil
	}
	return "", errf("", "guest path %q is not covered by any writable mapping", guestPath)
}

func rebase(hostPrefix, guestPrefix, guestPath string) string {
	rel := strings.TrimPrefix(guestPath, guestPrefix)
	return filepath.Join(hostPrefix, rel)
}
