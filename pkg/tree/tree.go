package tree

import (
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"lithos/pkg/cgroup"
	"lithos/pkg/config"
	"lithos/pkg/configlog"
	"lithos/pkg/errs"
	"lithos/pkg/knot"
	"lithos/pkg/logging"
	"lithos/pkg/metrics"
	"lithos/pkg/procsignal"
	"lithos/pkg/timerqueue"
)

const (
	minRestartDelay = 100 * time.Millisecond
	maxRestartDelay = 60 * time.Second
	shutdownGrace   = 30 * time.Second
)

// Options are the tree's own startup parameters.
type Options struct {
	MasterPath string
	KnotBinary string
	LogStderr  bool
}

// Tree is the root supervisor: one process, one event loop, one desired
// set, driving every knot instance on the host.
type Tree struct {
	opts       Options
	knotBinary string

	master *config.MasterConfig

	desired     DesiredSet
	slots       map[string]*Slot
	adoptedPIDs map[int]bool

	queue      *timerqueue.Queue
	cgroups    *cgroup.Manager
	pidFile    *flock.Flock
	configLogs map[string]*configlog.Writer

	stopping  bool
	rebooting bool

	unknownThisPass int
}

// New loads the master config and prepares a Tree ready for Run.
func New(opts Options) (*Tree, error) {
	m, err := config.LoadMaster(opts.MasterPath)
	if err != nil {
		return nil, err
	}
	knotBinary := opts.KnotBinary
	if knotBinary == "" {
		if self, err := os.Executable(); err == nil {
			knotBinary = filepath.Join(filepath.Dir(self), "lithos-knot")
		} else {
			knotBinary = "lithos-knot"
		}
	}
	if _, err := exec.LookPath(knotBinary); err != nil {
		return nil, errs.New(errs.Process, "find-knot-binary", knotBinary, err)
	}
	return &Tree{
		opts:        opts,
		knotBinary:  knotBinary,
		master:      m,
		slots:       map[string]*Slot{},
		adoptedPIDs: map[int]bool{},
		queue:       timerqueue.New(),
		cgroups:     cgroup.New(m.CgroupName),
		configLogs:  map[string]*configlog.Writer{},
	}, nil
}

// configLogWriter returns the cached config-log writer for sandbox,
// creating one the first time a manifest for it is applied.
func (t *Tree) configLogWriter(sandbox string) *configlog.Writer {
	w, ok := t.configLogs[sandbox]
	if !ok {
		w = configlog.NewWriter(t.master.ConfigLogDir, sandbox)
		t.configLogs[sandbox] = w
	}
	return w
}

// recordAppliedManifests appends one config-log entry per sandbox present
// in d, grouping its instances back down to a process-name-keyed manifest.
// Called on every successful (re)build of the desired set, startup and
// reload alike, so the cleaner's image-retention scan always has a
// complete history to replay.
func (t *Tree) recordAppliedManifests(d DesiredSet) {
	if t.master.ConfigLogDir == "" {
		return
	}
	bySandbox := map[string]map[string]*config.ChildConfig{}
	for _, entry := range d {
		m, ok := bySandbox[entry.Sandbox]
		if !ok {
			m = map[string]*config.ChildConfig{}
			bySandbox[entry.Sandbox] = m
		}
		m[entry.Instance.Process] = entry.Child
	}
	for sandbox, manifest := range bySandbox {
		if err := t.configLogWriter(sandbox).Append(manifest); err != nil {
			logging.Errorf(err, "failed to record applied manifest for sandbox %s", sandbox)
		}
	}
}

// Run executes the full startup sequence and then the main loop. It
// returns only on a fatal startup error, or after a clean SIGTERM/SIGINT
// shutdown (exit code 0) — a SIGUSR1 reboot instead execve's over the
// process and never returns.
func (t *Tree) Run() error {
	if err := t.startup(); err != nil {
		return err
	}
	return t.mainLoop()
}

func (t *Tree) startup() error {
	if err := procsignal.Trap(); err != nil {
		return err
	}
	if err := t.acquirePIDFile(); err != nil {
		return err
	}

	logDir := t.master.DefaultLogDir
	f, err := logging.LogFile(logDir, "tree")
	if err == nil {
		logging.Init(logging.Config{Level: logging.Level(t.master.LogLevel), Output: f, ToStderr: t.opts.LogStderr})
	}

	if t.master.CgroupName != "" {
		if err := t.cgroups.EnsureSelfIn(os.Getpid()); err != nil {
			logging.Errorf(err, "failed to attach tree to cgroup %s", t.master.CgroupName)
		}
	}

	timer := metrics.NewTimer()
	desired, err := BuildDesiredSet(t.master.SandboxesDir, t.master.ProcessesDir)
	if err != nil {
		return err
	}
	t.desired = desired
	metrics.SandboxesTotal.Set(countSandboxes(desired))
	t.recordAppliedManifests(desired)

	if err := t.adopt(); err != nil {
		return err
	}
	t.sweepStateDirs()
	t.sweepCgroups()
	t.scheduleUnstarted()
	t.refreshStateMetrics()
	timer.ObserveDuration(metrics.ReconciliationDuration)

	return nil
}

func (t *Tree) acquirePIDFile() error {
	path := filepath.Join(t.master.RuntimeDir, "master.pid")
	if data, err := os.ReadFile(path); err == nil {
		var pid int
		fmt.Sscanf(string(data), "%d", &pid)
		if pid != 0 && pid != os.Getpid() && processAlive(pid) {
			return errs.New(errs.Config, "acquire-pid-file", path, fmt.Errorf("another tree (pid %d) is already running", pid))
		}
	}
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil || !ok {
		return errs.New(errs.Config, "acquire-pid-file", path, fmt.Errorf("failed to acquire pid file lock"))
	}
	t.pidFile = lock
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
		return errs.New(errs.Config, "acquire-pid-file", path, err)
	}
	return nil
}

func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

func countSandboxes(d DesiredSet) float64 {
	seen := map[string]bool{}
	for _, e := range d {
		seen[e.Sandbox] = true
	}
	return float64(len(seen))
}

// mainLoop is the single-threaded signal-or-timer event loop: wait for
// either a trapped signal or the next restart deadline, handle it, repeat.
func (t *Tree) mainLoop() error {
	for {
		if t.stopping {
			return t.finalizeShutdown()
		}

		wait, hasDeadline := t.queue.NextWait(time.Now())
		if !hasDeadline {
			wait = 24 * time.Hour
		}

		sig, received, err := procsignal.Wait(wait)
		if err != nil {
			logging.Errorf(err, "signal wait failed")
			continue
		}
		if received {
			if err := t.handleSignal(sig); err != nil {
				return err
			}
			t.refreshStateMetrics()
			continue
		}

		t.drainExpired()
		t.refreshStateMetrics()
	}
}

// refreshStateMetrics recomputes lithos_instances_by_state from the live
// slot table. Called after every event the main loop handles rather than
// incrementally, since a single signal (SIGQUIT reload, SIGCHLD reap) can
// move several slots between states at once.
func (t *Tree) refreshStateMetrics() {
	counts := map[SlotState]int{}
	for _, s := range t.slots {
		counts[s.State]++
	}
	for _, st := range []SlotState{StateEmpty, StateScheduled, StateRunning, StateCooldown, StateDraining} {
		metrics.InstancesByState.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

func (t *Tree) handleSignal(sig unix.Signal) error {
	switch sig {
	case unix.SIGCHLD:
		t.reapAll()
	case unix.SIGQUIT:
		t.reload()
	case unix.SIGUSR1:
		return t.reboot()
	case unix.SIGTERM, unix.SIGINT:
		t.beginShutdown()
	}
	return nil
}

func (t *Tree) drainExpired() {
	for _, e := range t.queue.PopDue(time.Now()) {
		inst, ok := e.Value.(config.Instance)
		if !ok {
			continue
		}
		t.spawn(inst)
	}
}

func (t *Tree) scheduleUnstarted() {
	for key, entry := range t.desired {
		slot, exists := t.slots[key]
		if exists && slot.IsLive() {
			continue
		}
		t.enqueue(entry.Instance, smallJitter())
	}
}

func smallJitter() time.Duration {
	return time.Duration(50+int64(time.Now().UnixNano()%200)) * time.Millisecond
}

func (t *Tree) enqueue(inst config.Instance, delay time.Duration) {
	slot := t.slotFor(inst)
	if slot.Timer != nil {
		t.queue.Remove(slot.Timer)
	}
	slot.State = StateScheduled
	slot.Timer = t.queue.Push(time.Now().Add(delay), inst)
	metrics.RestartQueueDepth.Set(float64(t.queue.Len()))
}

func (t *Tree) spawn(inst config.Instance) {
	entry, ok := t.desired[inst.String()]
	if !ok {
		return
	}
	argv := knot.Argv(t.knotBinary, &knot.Options{Name: inst.String(), MasterPath: t.opts.MasterPath, ConfigJSON: entry.JSON})
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Cloneflags: syscall.CLONE_NEWNS}
	if err := cmd.Start(); err != nil {
		logging.Errorf(err, "failed to spawn %s", inst)
		metrics.KnotFailuresTotal.WithLabelValues(inst.Sandbox, inst.Process).Inc()
		t.enqueue(inst, backoffDelay(t.slotFor(inst)))
		return
	}

	slot := t.slotFor(inst)
	slot.Desired = entry
	slot.PID = cmd.Process.Pid
	slot.State = StateRunning
	slot.StartedAt = time.Now().UnixNano()
	slot.Timer = nil
	metrics.KnotStartsTotal.WithLabelValues(inst.Sandbox, inst.Process).Inc()
	metrics.KnotsRunning.Inc()

	_ = cmd.Process.Release()
}

const generousFirstDeadline = 10 * time.Second

func (t *Tree) rescheduleAfterStart(slot *Slot, minWait time.Duration) {
	slot.State = StateRunning
}

func backoffDelay(slot *Slot) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minRestartDelay
	b.MaxInterval = maxRestartDelay
	b.MaxElapsedTime = 0
	d := minRestartDelay
	for i := 0; i < slot.FailureCount; i++ {
		next := b.NextBackOff()
		if next == backoff.Stop {
			break
		}
		d = next
	}
	if d > maxRestartDelay {
		d = maxRestartDelay
	}
	return time.Duration(math.Max(float64(d), float64(minRestartDelay)))
}

func (t *Tree) reapAll() {
	reaped, err := procsignal.ReapAll()
	if err != nil {
		logging.Errorf(err, "reap failed")
		return
	}
	for _, r := range reaped {
		t.reapOne(r)
	}
}

func (t *Tree) reapOne(r procsignal.Reaped) {
	delete(t.adoptedPIDs, r.PID)
	slot := t.slotByPID(r.PID)
	if slot == nil {
		return
	}
	metrics.KnotsRunning.Dec()
	metrics.KnotDeathsTotal.WithLabelValues(slot.Name.Sandbox, slot.Name.Process).Inc()
	if r.ExitCode != 0 {
		metrics.KnotFailuresTotal.WithLabelValues(slot.Name.Sandbox, slot.Name.Process).Inc()
		slot.FailureCount++
	} else {
		slot.FailureCount = 0
	}
	slot.PID = 0

	switch {
	case slot.Unidentified:
		t.forgetSlot(slot)
	case slot.State == StateDraining:
		t.forgetSlotIfRemoved(slot)
	default:
		minWait := minRestartDelay
		if entry, ok := t.desired[slot.Name.String()]; ok {
			slot.Desired = entry
			wait := restartTimeoutWait(entry)
			if wait > minWait {
				minWait = wait
			}
			t.enqueue(slot.Name, addBackoff(minWait, slot.FailureCount))
		} else {
			t.forgetSlot(slot)
		}
	}
}

// restartTimeoutWait would apply the dying instance's restart_timeout, but
// that value lives in the in-image ContainerConfig, which only the knot
// itself reads after mounting the image; the tree only ever sees the
// manifest-level ChildConfig. The tree instead applies the floor here and
// leaves restart_timeout enforcement to the knot's own restart-in-place
// loop for daemons that use it; a fresh knot invocation for every other
// exit is already rate-limited by minRestartDelay and the backoff below.
func restartTimeoutWait(entry *DesiredEntry) time.Duration {
	return minRestartDelay
}

func addBackoff(base time.Duration, failures int) time.Duration {
	if failures == 0 {
		return base
	}
	d := base
	for i := 0; i < failures && d < maxRestartDelay; i++ {
		d *= 2
	}
	if d > maxRestartDelay {
		d = maxRestartDelay
	}
	return d
}

func (t *Tree) forgetSlotIfRemoved(slot *Slot) {
	if _, ok := t.desired[slot.Name.String()]; ok {
		slot.State = StateScheduled
		t.enqueue(slot.Name, smallJitter())
		return
	}
	t.forgetSlot(slot)
}

func (t *Tree) forgetSlot(slot *Slot) {
	t.cleanupInstance(slot.Name)
	delete(t.slots, slot.Name.String())
}

func (t *Tree) slotByPID(pid int) *Slot {
	for _, s := range t.slots {
		if s.PID == pid {
			return s
		}
	}
	return nil
}

func (t *Tree) cleanupInstance(inst config.Instance) {
	stateDir := filepath.Join(t.master.StateDir, inst.StateDir())
	_ = os.RemoveAll(stateDir)
	_ = t.cgroups.RemoveChild(inst.CgroupScope())
}

func (t *Tree) beginShutdown() {
	t.stopping = true
	for _, s := range t.slots {
		if s.IsLive() {
			_ = unix.Kill(s.PID, unix.SIGTERM)
		}
	}
}

func (t *Tree) finalizeShutdown() error {
	deadline := time.Now().Add(shutdownGrace)
	for t.anyLive() && time.Now().Before(deadline) {
		sig, received, err := procsignal.Wait(500 * time.Millisecond)
		if err == nil && received && sig == unix.SIGCHLD {
			t.reapAll()
		}
	}
	for _, s := range t.slots {
		if s.IsLive() {
			_ = unix.Kill(s.PID, unix.SIGKILL)
		}
	}
	t.globalStateDirCleanup()
	if t.rebooting {
		return t.execSelf()
	}
	return nil
}

func (t *Tree) anyLive() bool {
	for _, s := range t.slots {
		if s.IsLive() {
			return true
		}
	}
	return false
}

func (t *Tree) globalStateDirCleanup() {
	t.sweepStateDirs()
	t.sweepCgroups()
}

func (t *Tree) reboot() error {
	t.rebooting = true
	t.stopping = true
	return nil
}

func (t *Tree) execSelf() error {
	self, err := os.Executable()
	if err != nil {
		return errs.New(errs.Process, "reboot", "", err)
	}
	return unix.Exec(self, os.Args, os.Environ())
}
