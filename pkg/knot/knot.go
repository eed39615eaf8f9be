// Package knot implements the per-instance container assembler: the
// twelve-step startup protocol that turns a sandbox image plus a
// ContainerConfig into a running, namespaced, cgrouped payload process,
// and the restart-in-place loop for daemons that opt into it.
package knot

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"lithos/pkg/cgroup"
	"lithos/pkg/config"
	"lithos/pkg/errs"
	"lithos/pkg/logging"
	"lithos/pkg/mountutil"
	"lithos/pkg/netsetup"
	"lithos/pkg/secrets"
)

// Knot holds the state threaded through the startup sequence.
type Knot struct {
	opts     *Options
	instance config.Instance
	master   *config.MasterConfig
	sandbox  *config.SandboxConfig
	child    *config.ChildConfig
	container *config.ContainerConfig

	imageRoot string
	mountRoot string
	stateDir  string

	secretsPolicy secrets.Policy
}

// New parses opts.Name into its Instance components. Call Run to execute
// the startup protocol.
func New(opts *Options, secretsPolicy secrets.Policy) (*Knot, error) {
	inst, err := config.ParseInstance(opts.Name)
	if err != nil {
		return nil, errs.New(errs.Config, "new-knot", "", err)
	}
	return &Knot{opts: opts, instance: inst, secretsPolicy: secretsPolicy}, nil
}

// Run executes the startup protocol. On success for a Command-kind
// container, or a Daemon not marked restart_process_only, Run execs the
// payload and never returns. For a restart_process_only Daemon, Run loops
// internally, re-executing the payload in a child process each time it
// exits, and only returns on a fatal setup error.
func (k *Knot) Run() error {
	if err := k.step1LoadConfigs(); err != nil {
		return err
	}
	if err := k.step2InitLogging(); err != nil {
		return err
	}
	if err := k.step3MountImage(); err != nil {
		return err
	}
	if err := k.step4LoadContainerConfig(); err != nil {
		return err
	}
	if err := k.step5PrepareStateDir(); err != nil {
		return err
	}
	if err := k.step6MountVolumes(); err != nil {
		return err
	}
	if k.sandbox.Bridge != nil && len(k.child.InstanceIPs) > 0 {
		if err := k.step7SetupNetwork(); err != nil {
			return err
		}
	}
	scopeCgroup, err := k.step8EnterCgroup()
	if err != nil {
		return err
	}
	if err := k.step9PivotRoot(); err != nil {
		return err
	}
	if err := k.step10SetRlimits(); err != nil {
		return err
	}
	env, err := k.step11DecryptSecrets()
	if err != nil {
		return err
	}

	return k.step12ExecLoop(scopeCgroup, env)
}

func (k *Knot) step1LoadConfigs() error {
	m, err := config.LoadMaster(k.opts.MasterPath)
	if err != nil {
		return err
	}
	k.master = m

	sandboxPath := filepath.Join(m.SandboxesDir, k.instance.Sandbox+".yaml")
	s, err := config.LoadSandbox(sandboxPath)
	if err != nil {
		return err
	}
	k.sandbox = s

	c, err := config.DecodeChildConfig(k.opts.ConfigJSON)
	if err != nil {
		return err
	}
	k.child = c
	return nil
}

func (k *Knot) step2InitLogging() error {
	logDir := k.master.DefaultLogDir
	f, err := logging.LogFile(logDir, k.instance.Sandbox)
	if err != nil {
		return err
	}
	logging.Init(logging.Config{
		Level:    logging.Level(k.master.LogLevel),
		Output:   f,
		ToStderr: k.opts.LogStderr,
	})
	return nil
}

func (k *Knot) step3MountImage() error {
	if err := mountutil.MakePrivate("/"); err != nil {
		return err
	}
	k.imageRoot = filepath.Join(k.sandbox.ImageDir, k.child.Image)
	k.mountRoot = filepath.Join(k.master.MountDir, k.instance.String())
	if err := mountutil.EnsureDir(k.mountRoot, 0755); err != nil {
		return err
	}
	if err := mountutil.BindRec(k.imageRoot, k.mountRoot); err != nil {
		return err
	}
	if err := mountutil.RemountROrec(k.mountRoot); err != nil {
		return err
	}
	return nil
}

func (k *Knot) step4LoadContainerConfig() error {
	c, err := config.LoadContainer(k.mountRoot, k.child.Config)
	if err != nil {
		return err
	}
	if err := config.ValidateContainerAgainstSandbox(c, k.child.Kind, k.sandbox); err != nil {
		return err
	}
	k.container = c
	return nil
}

func (k *Knot) step5PrepareStateDir() error {
	k.stateDir = filepath.Join(k.master.StateDir, k.instance.Sandbox, fmt.Sprintf("%s.%d", k.instance.Process, k.instance.Index))
	if err := mountutil.EnsureDir(k.stateDir, 0700); err != nil {
		return err
	}
	if err := k.writeResolvConf(); err != nil {
		return err
	}
	if err := k.writeHosts(); err != nil {
		return err
	}
	return nil
}

func (k *Knot) writeResolvConf() error {
	path := filepath.Join(k.stateDir, "resolv.conf")
	var lines []string
	if k.container.ResolvConf.CopyFromHost {
		if b, err := os.ReadFile("/etc/resolv.conf"); err == nil {
			lines = append(lines, strings.TrimRight(string(b), "\n"))
		}
	}
	for _, ns := range k.container.ResolvConf.Nameservers {
		lines = append(lines, "nameserver "+ns)
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
}

func (k *Knot) writeHosts() error {
	path := filepath.Join(k.stateDir, "hosts")
	var lines []string
	if k.container.HostsFile.CopyFromHost {
		if b, err := os.ReadFile("/etc/hosts"); err == nil {
			lines = append(lines, strings.TrimRight(string(b), "\n"))
		}
	}
	lines = append(lines, "127.0.0.1 localhost")
	if k.container.HostsFile.PublicHostname {
		if hostname, err := os.Hostname(); err == nil {
			lines = append(lines, "127.0.1.1 "+hostname)
		}
	}
	for host, ip := range k.sandbox.AdditionalHosts {
		lines = append(lines, ip+" "+host)
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
}

// step6MountVolumes mounts every declared volume in increasing guest-path
// length, so a parent directory is always mounted before a child path
// underneath it.
func (k *Knot) step6MountVolumes() error {
	type vol struct {
		guest string
		v     config.Volume
	}
	var vols []vol
	for guest, v := range k.container.Volumes {
		vols = append(vols, vol{guest: guest, v: v})
	}
	sort.Slice(vols, func(i, j int) bool { return len(vols[i].guest) < len(vols[j].guest) })

	for _, entry := range vols {
		target := filepath.Join(k.mountRoot, entry.guest)
		if err := mountutil.EnsureDir(target, 0755); err != nil {
			return err
		}
		if err := k.mountOneVolume(target, entry.guest, entry.v); err != nil {
			return err
		}
	}

	if err := k.mountDevProcSys(); err != nil {
		return err
	}
	return k.bindStateDirFiles()
}

func (k *Knot) mountOneVolume(target, guest string, v config.Volume) error {
	switch v.Kind {
	case config.VolumeReadonly:
		host, err := config.ResolveReadonly(k.sandbox, v.GuestPath)
		if err != nil {
			return err
		}
		if err := mountutil.BindRec(host, target); err != nil {
			return err
		}
		return mountutil.RemountROrec(target)
	case config.VolumePersistent:
		host, err := config.ResolvePersistent(k.sandbox, guest)
		if err != nil {
			return err
		}
		if v.Mkdir {
			if err := mountutil.EnsureDir(host, os.FileMode(v.Mode)); err != nil {
				return err
			}
			_ = os.Chown(host, int(v.User), int(v.Group))
		}
		return mountutil.BindRec(host, target)
	case config.VolumeTmpfs:
		opts := ""
		if v.Size != "" {
			opts = "size=" + v.Size
		}
		return mountutil.MountTmpfs(target, opts)
	case config.VolumeStatedir:
		host := filepath.Join(k.stateDir, guest)
		if v.Mkdir {
			if err := mountutil.EnsureDir(host, os.FileMode(v.Mode)); err != nil {
				return err
			}
			_ = os.Chown(host, int(v.User), int(v.Group))
		}
		return mountutil.BindRec(host, target)
	default:
		return errs.New(errs.Config, "mount-volume", guest, fmt.Errorf("unknown volume kind %q", v.Kind))
	}
}

func (k *Knot) mountDevProcSys() error {
	devTarget := filepath.Join(k.mountRoot, "dev")
	if err := mountutil.EnsureDir(devTarget, 0755); err != nil {
		return err
	}
	if err := mountutil.BindRec(k.master.DevfsDir, devTarget); err != nil {
		return err
	}
	if err := mountutil.RemountROrec(devTarget); err != nil {
		return err
	}

	for _, d := range []string{"dev/pts", "proc", "sys"} {
		if err := mountutil.EnsureDir(filepath.Join(k.mountRoot, d), 0755); err != nil {
			return err
		}
	}
	if err := mountutil.MountPseudo("devtmpfs", filepath.Join(k.mountRoot, "dev/pts")); err != nil {
		return err
	}
	if err := mountutil.MountPseudo("proc", filepath.Join(k.mountRoot, "proc")); err != nil {
		return err
	}
	if err := mountutil.MountPseudo("sysfs", filepath.Join(k.mountRoot, "sys")); err != nil {
		return err
	}
	return nil
}

func (k *Knot) bindStateDirFiles() error {
	for _, f := range []string{"resolv.conf", "hosts"} {
		guestEtc := filepath.Join(k.mountRoot, "etc", f)
		if _, err := os.Stat(guestEtc); err != nil {
			continue
		}
		if err := mountutil.Bind(filepath.Join(k.stateDir, f), guestEtc); err != nil {
			return err
		}
	}
	return nil
}

func (k *Knot) step7SetupNetwork() error {
	ipStr := k.child.InstanceIPs[k.instance.Index]
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return errs.New(errs.Network, "setup", ipStr, fmt.Errorf("invalid instance IP"))
	}
	cfg := netsetup.Config{
		Bridge:  k.sandbox.Bridge.Bridge,
		IP:      ip,
		Prefix:  k.sandbox.Bridge.Prefix,
		Gateway: net.ParseIP(k.sandbox.Bridge.Gateway),
	}
	// The knot's own network namespace is created by its caller (the
	// tree forks with CLONE_NEWNET before exec'ing the knot binary);
	// here the knot only attaches the host side and configures its own
	// namespace's interface.
	hostIf, err := netsetup.Setup(cfg, os.Getpid())
	if err != nil {
		return err
	}
	peerName := "peer" + hostIf[4:]
	return netsetup.ConfigureInNamespace(peerName, "eth0", cfg)
}

func (k *Knot) step8EnterCgroup() (*cgroup.Child, error) {
	mgr := cgroup.New(k.master.CgroupName)
	res := cgroupResources(k.container)
	child, err := mgr.EnsureChild(k.instance.CgroupScope(), res)
	if err != nil {
		return nil, err
	}
	if err := child.Join(os.Getpid()); err != nil {
		logging.Errorf(err, "cgroup join failed for %s, continuing with default limits", k.instance)
	}
	return child, nil
}

func (k *Knot) step9PivotRoot() error {
	return mountutil.PivotRoot(k.mountRoot, "tmp")
}

func (k *Knot) step10SetRlimits() error {
	if k.container.FilenoLimit == 0 {
		return nil
	}
	rl := syscall.Rlimit{Cur: k.container.FilenoLimit, Max: k.container.FilenoLimit}
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
		return errs.New(errs.Process, "setrlimit", "", err)
	}
	return nil
}

func (k *Knot) step11DecryptSecrets() ([]string, error) {
	keys, err := loadSandboxKeys(k.sandbox)
	if err != nil {
		return nil, err
	}
	allowed := map[string]bool{}
	if len(k.sandbox.SecretsNamespaces) == 0 {
		allowed[""] = true
	}
	for _, ns := range k.sandbox.SecretsNamespaces {
		allowed[ns] = true
	}
	for _, ns := range k.child.ExtraSecretsNamespaces {
		allowed[ns] = true
	}

	var env []string
	for name, ciphertexts := range k.container.Secrets {
		value, err := secrets.Decode(k.secretsPolicy, ciphertexts, keys, allowed)
		if err != nil {
			return nil, errs.New(errs.Secrets, "decrypt", name, err)
		}
		env = append(env, name+"="+value)
	}
	return env, nil
}

// step12ExecLoop builds the final environment and either execs the
// payload directly or, for a restart_process_only daemon, loops forking
// and waiting on it in place.
func (k *Knot) step12ExecLoop(scopeCgroup *cgroup.Child, secretEnv []string) error {
	argv := append([]string{k.container.Executable}, k.container.Arguments...)
	env := buildEnviron(k.instance.String(), k.container.Environ, secretEnv)

	if k.container.Kind == config.KindDaemon && k.container.RestartProcessOnly {
		return k.restartLoop(argv, env)
	}
	return execPayload(argv, env, k.container)
}

func buildEnviron(instanceName string, declared map[string]string, secretEnv []string) []string {
	env := []string{"LITHOS_NAME=" + instanceName}
	if term, ok := os.LookupEnv("TERM"); ok {
		env = append(env, "TERM="+term)
	}
	keys := make([]string, 0, len(declared))
	for key := range declared {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+declared[key])
	}
	env = append(env, secretEnv...)
	return env
}

func cgroupResources(c *config.ContainerConfig) *specs.LinuxResources {
	res := &specs.LinuxResources{}
	if c.MemoryLimit > 0 {
		res.Memory = &specs.LinuxMemory{Limit: &c.MemoryLimit}
	}
	if c.CPUShares > 0 {
		shares := uint64(c.CPUShares)
		res.CPU = &specs.LinuxCPU{Shares: &shares}
	}
	return res
}

// restartLoop re-execs the payload after restart_timeout seconds on each
// non-fatal exit, without tearing down the mount/network/cgroup setup
// already performed.
func (k *Knot) restartLoop(argv, env []string) error {
	delay := time.Duration(k.container.RestartTimeout * float64(time.Second))
	for {
		if err := runOnce(argv, env, k.container); err != nil {
			logging.Errorf(err, "payload run failed for %s", k.instance)
		}
		time.Sleep(delay)
	}
}
