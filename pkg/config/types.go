package config

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"lithos/pkg/idrange"
)

// MasterConfig is the process-wide configuration, immutable after load.
type MasterConfig struct {
	RuntimeDir    string `yaml:"runtime_dir"`
	SandboxesDir  string `yaml:"sandboxes_dir"`
	ProcessesDir  string `yaml:"processes_dir"`
	StateDir      string `yaml:"state_dir"`
	MountDir      string `yaml:"mount_dir"`
	DevfsDir      string `yaml:"devfs_dir"`
	DefaultLogDir string `yaml:"default_log_dir"`
	ConfigLogDir  string `yaml:"config_log_dir"`

	CgroupName        string   `yaml:"cgroup_name,omitempty"`
	CgroupControllers []string `yaml:"cgroup_controllers,omitempty"`

	LogLevel      string `yaml:"log_level,omitempty"`
	SyslogFacility string `yaml:"syslog_facility,omitempty"`
}

// SandboxConfig describes one sandbox: its allowed ID/port ranges, image
// root, host-path maps and optional network and secrets policy.
type SandboxConfig struct {
	Name string `yaml:"-"`

	AllowUsers idrange.Set `yaml:"allow_users"`
	AllowGroups idrange.Set `yaml:"allow_groups"`
	AllowTCPPorts idrange.Set `yaml:"allow_tcp_ports,omitempty"`

	ImageDir       string `yaml:"image_dir"`
	ImageDirLevels int    `yaml:"image_dir_levels,omitempty"`

	Readonly  map[string]string `yaml:"readonly_paths,omitempty"`
	Writable  map[string]string `yaml:"writable_paths,omitempty"`

	AdditionalHosts map[string]string `yaml:"additional_hosts,omitempty"`

	Bridge *BridgeConfig `yaml:"bridge,omitempty"`

	SecretsPrivateKey  string   `yaml:"secrets_private_key,omitempty"`
	SecretsNamespaces  []string `yaml:"secrets_namespaces,omitempty"`

	ConfigFile string `yaml:"config_file,omitempty"`
}

// BridgeConfig describes the bridged network a sandbox's containers join.
type BridgeConfig struct {
	Bridge  string `yaml:"bridge"`
	Gateway string `yaml:"gateway"`
	Prefix  int    `yaml:"prefix"`
}

// ChildKind distinguishes long-running daemons from one-shot commands.
type ChildKind string

const (
	KindDaemon  ChildKind = "Daemon"
	KindCommand ChildKind = "Command"
)

// ChildConfig is one element of a sandbox's process manifest.
type ChildConfig struct {
	Image     string    `yaml:"image" json:"image"`
	Config    string    `yaml:"config" json:"config"`
	Instances int       `yaml:"instances" json:"instances"`
	Kind      ChildKind `yaml:"kind" json:"kind"`

	ExtraSecretsNamespaces []string          `yaml:"extra_secrets_namespaces,omitempty" json:"extra_secrets_namespaces,omitempty"`
	InstanceIPs            []string          `yaml:"instance_ips,omitempty" json:"instance_ips,omitempty"`
	Variables              map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
}

// VolumeKind tags the variant carried by Volume.
type VolumeKind string

const (
	VolumeReadonly   VolumeKind = "readonly"
	VolumePersistent VolumeKind = "persistent"
	VolumeTmpfs      VolumeKind = "tmpfs"
	VolumeStatedir   VolumeKind = "statedir"
)

// Volume is the tagged variant describing one mount point inside a
// container. Only the fields relevant to Kind are meaningful.
type Volume struct {
	Kind VolumeKind `yaml:"kind" json:"kind"`

	// Readonly
	GuestPath string `yaml:"path,omitempty" json:"path,omitempty"`

	// Persistent, Statedir
	Mkdir bool   `yaml:"mkdir,omitempty" json:"mkdir,omitempty"`
	Mode  uint32 `yaml:"mode,omitempty" json:"mode,omitempty"`
	User  uint32 `yaml:"user,omitempty" json:"user,omitempty"`
	Group uint32 `yaml:"group,omitempty" json:"group,omitempty"`

	// Tmpfs
	Size string `yaml:"size,omitempty" json:"size,omitempty"`
}

// ResolvConfPolicy controls how /etc/resolv.conf is assembled inside a
// container's state directory.
type ResolvConfPolicy struct {
	CopyFromHost bool     `yaml:"copy_from_host,omitempty" json:"copy_from_host,omitempty"`
	Nameservers  []string `yaml:"nameservers,omitempty" json:"nameservers,omitempty"`
}

// HostsFilePolicy controls how /etc/hosts is assembled.
type HostsFilePolicy struct {
	CopyFromHost bool `yaml:"copy_from_host,omitempty" json:"copy_from_host,omitempty"`
	PublicHostname bool `yaml:"public_hostname,omitempty" json:"public_hostname,omitempty"`
}

// ContainerConfig is read by the knot from inside the assembled image.
type ContainerConfig struct {
	Kind ChildKind `yaml:"kind" json:"kind"`

	Executable string   `yaml:"executable" json:"executable"`
	Arguments  []string `yaml:"arguments,omitempty" json:"arguments,omitempty"`
	Environ    map[string]string `yaml:"environ,omitempty" json:"environ,omitempty"`
	Workdir    string   `yaml:"workdir,omitempty" json:"workdir,omitempty"`

	UserID  uint32 `yaml:"user_id" json:"user_id"`
	GroupID uint32 `yaml:"group_id" json:"group_id"`

	UIDMap []specs.LinuxIDMapping `yaml:"uid_map,omitempty" json:"uid_map,omitempty"`
	GIDMap []specs.LinuxIDMapping `yaml:"gid_map,omitempty" json:"gid_map,omitempty"`

	MemoryLimit  int64   `yaml:"memory_limit,omitempty" json:"memory_limit,omitempty"`
	CPUShares    int64   `yaml:"cpu_shares,omitempty" json:"cpu_shares,omitempty"`
	FilenoLimit  uint64  `yaml:"fileno_limit,omitempty" json:"fileno_limit,omitempty"`

	RestartTimeout     float64 `yaml:"restart_timeout" json:"restart_timeout"`
	RestartProcessOnly bool    `yaml:"restart_process_only,omitempty" json:"restart_process_only,omitempty"`

	Volumes map[string]Volume `yaml:"volumes,omitempty" json:"volumes,omitempty"`

	// Secrets maps a requested secret name to the candidate ciphertexts
	// that might decrypt to it (one per sandbox key the image was built
	// against).
	Secrets map[string][]string `yaml:"secrets,omitempty" json:"secrets,omitempty"`

	ResolvConf ResolvConfPolicy `yaml:"resolv_conf,omitempty" json:"resolv_conf,omitempty"`
	HostsFile  HostsFilePolicy  `yaml:"hosts_file,omitempty" json:"hosts_file,omitempty"`

	StdoutStderrFile string `yaml:"stdout_stderr_file,omitempty" json:"stdout_stderr_file,omitempty"`
}
