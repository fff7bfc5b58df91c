// Package sim is an in-process network that implements env.Environment. It
// backs the command-line tool when no live environment is attached and gives
// tests a deterministic graph to drive the orchestrator against.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/kingrea/harvester/internal/env"
	"github.com/kingrea/harvester/internal/node"
)

var (
	errFault     = errors.New("injected fault")
	errNoThreads = errors.New("thread count must be >= 1")
)

type host struct {
	snap   node.Snapshot
	links  []string
	files  map[string]bool
	faults Faults
}

type process struct {
	pid       env.PID
	script    string
	host      string
	threads   int
	args      []string
	ram       float64
	remaining int
}

// World is a mutable simulated network. All methods are safe for concurrent use.
type World struct {
	mu        sync.Mutex
	root      string
	skill     int
	scripts   map[string]ScriptSpec
	tuning    Tuning
	hosts     map[string]*host
	order     []string
	procs     []*process
	nextPID   env.PID
	harvested float64
	closed    bool

	purchaseLimit int
	maxServerRAM  float64
}

var _ env.Environment = (*World)(nil)

// New builds a world from spec.
func New(spec WorldSpec) (*World, error) {
	spec.applyDefaults()
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	w := &World{
		root:    spec.Root,
		skill:   spec.Skill,
		scripts: make(map[string]ScriptSpec, len(spec.Scripts)),
		tuning:  spec.Tuning,
		hosts:   make(map[string]*host, len(spec.Nodes)+1),
		nextPID: 1,

		purchaseLimit: spec.PurchaseLimit,
		maxServerRAM:  spec.MaxServerRAM,
	}
	for name, script := range spec.Scripts {
		w.scripts[name] = script
	}
	rootHost := &host{
		snap: node.Snapshot{
			Hostname:    spec.Root,
			AdminRights: true,
			Purchased:   true,
			MaxRAM:      spec.RootRAM,
		},
		files: map[string]bool{},
	}
	for _, artifact := range spec.Artifacts {
		rootHost.files[strings.TrimSpace(artifact)] = true
	}
	for script := range spec.Scripts {
		rootHost.files[script] = true
	}
	w.addHost(rootHost)
	for _, n := range spec.Nodes {
		h := &host{
			snap: node.Snapshot{
				Hostname:         n.Hostname,
				Organization:     n.Organization,
				SecurityLevel:    n.Security,
				MinSecurityLevel: n.MinSecurity,
				MoneyAvailable:   n.Money,
				MaxMoney:         n.MaxMoney,
				RequiredSkill:    n.RequiredSkill,
				PortsRequired:    n.PortsRequired,
				AdminRights:      n.Rooted,
				Purchased:        n.Purchased,
				MaxRAM:           n.MaxRAM,
			},
			files:  map[string]bool{},
			faults: n.Faults,
		}
		for _, p := range n.OpenPorts {
			port, _ := node.ParsePort(p)
			h.snap.OpenPorts = h.snap.OpenPorts.With(port)
		}
		for _, f := range n.Files {
			h.files[strings.TrimSpace(f)] = true
		}
		w.addHost(h)
	}
	for _, n := range spec.Nodes {
		for _, link := range n.Links {
			w.link(n.Hostname, strings.TrimSpace(link))
		}
	}
	return w, nil
}

func (w *World) addHost(h *host) {
	w.hosts[h.snap.Hostname] = h
	w.order = append(w.order, h.snap.Hostname)
}

func (w *World) link(a, b string) {
	if a == b {
		return
	}
	ha, hb := w.hosts[a], w.hosts[b]
	if !contains(ha.links, b) {
		ha.links = append(ha.links, b)
	}
	if !contains(hb.links, a) {
		hb.links = append(hb.links, a)
	}
}

// Root returns the name of the operator's root host.
func (w *World) Root() string {
	return w.root
}

// Close makes every later call fail with env.ErrFatal.
func (w *World) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *World) lookup(op, hostname string) (*host, error) {
	if w.closed {
		return nil, fmt.Errorf("sim: %s %s: %w", op, hostname, env.ErrFatal)
	}
	h, ok := w.hosts[hostname]
	if !ok {
		return nil, env.NewError(op, hostname, env.KindNotFound, nil)
	}
	return h, nil
}

// Scan implements env.Query.
func (w *World) Scan(ctx context.Context, hostname string) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, err := w.lookup("scan", hostname)
	if err != nil {
		return nil, err
	}
	if h.faults.Scan {
		return nil, env.NewError("scan", hostname, env.KindTransportFailure, errFault)
	}
	return append([]string(nil), h.links...), nil
}

// Snapshot implements env.Query.
func (w *World) Snapshot(ctx context.Context, hostname string) (node.Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, err := w.lookup("snapshot", hostname)
	if err != nil {
		return node.Snapshot{}, err
	}
	if h.faults.Snapshot {
		return node.Snapshot{}, env.NewError("snapshot", hostname, env.KindTransportFailure, errFault)
	}
	return h.snap, nil
}

// FileExists implements env.Query.
func (w *World) FileExists(ctx context.Context, file, hostname string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, err := w.lookup("file-exists", hostname)
	if err != nil {
		return false, err
	}
	return h.files[file], nil
}

// SkillLevel implements env.Query.
func (w *World) SkillLevel(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, fmt.Errorf("sim: skill: %w", env.ErrFatal)
	}
	return w.skill, nil
}

// ScriptRAM implements env.Query.
func (w *World) ScriptRAM(ctx context.Context, script, hostname string) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.lookup("script-ram", hostname); err != nil {
		return 0, err
	}
	spec, ok := w.scripts[script]
	if !ok {
		return 0, env.NewError("script-ram", hostname, env.KindNotFound, fmt.Errorf("unknown script %s", script))
	}
	return spec.RAM, nil
}

// Running implements env.Query.
func (w *World) Running(ctx context.Context, script, hostname string, args ...string) (env.PID, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.lookup("running", hostname); err != nil {
		return 0, false, err
	}
	for _, p := range w.procs {
		if p.host == hostname && p.script == script && equalArgs(p.args, args) {
			return p.pid, true, nil
		}
	}
	return 0, false, nil
}

// OpenPort implements env.Mutator.
func (w *World) OpenPort(ctx context.Context, port node.Port, hostname string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, err := w.lookup("open-port", hostname)
	if err != nil {
		return err
	}
	tool, ok := node.ToolFor(port)
	if !ok || !w.hosts[w.root].files[tool.Artifact] {
		return env.NewError("open-port", hostname, env.KindToolUnavailable, fmt.Errorf("no tool for %s", port))
	}
	if h.snap.OpenPorts.Has(port) {
		return env.NewError("open-port", hostname, env.KindAlreadyOpen, nil)
	}
	if h.faults.OpenPort {
		return env.NewError("open-port", hostname, env.KindTransportFailure, errFault)
	}
	h.snap.OpenPorts = h.snap.OpenPorts.With(port)
	return nil
}

// Elevate implements env.Mutator.
func (w *World) Elevate(ctx context.Context, hostname string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, err := w.lookup("elevate", hostname)
	if err != nil {
		return err
	}
	if !w.hosts[w.root].files[node.ElevationArtifact] {
		return env.NewError("elevate", hostname, env.KindToolUnavailable, nil)
	}
	if h.snap.AdminRights {
		return env.NewError("elevate", hostname, env.KindAlreadyOpen, nil)
	}
	if !h.snap.PortsSatisfied() {
		return env.NewError("elevate", hostname, env.KindInsufficientPrivilege,
			fmt.Errorf("%d of %d ports open", h.snap.OpenPortCount(), h.snap.PortsRequired))
	}
	if h.faults.Elevate {
		return env.NewError("elevate", hostname, env.KindTransportFailure, errFault)
	}
	h.snap.AdminRights = true
	return nil
}

// Copy implements env.Mutator.
func (w *World) Copy(ctx context.Context, file, source, hostname string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	src, err := w.lookup("copy", source)
	if err != nil {
		return err
	}
	dst, err := w.lookup("copy", hostname)
	if err != nil {
		return err
	}
	if !src.files[file] {
		return env.NewError("copy", hostname, env.KindNotFound, fmt.Errorf("%s missing on %s", file, source))
	}
	if dst.faults.Copy {
		return env.NewError("copy", hostname, env.KindCapacityExceeded, errFault)
	}
	dst.files[file] = true
	return nil
}

// Exec implements env.Mutator.
func (w *World) Exec(ctx context.Context, script, hostname string, threads int, args ...string) (env.PID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, err := w.lookup("exec", hostname)
	if err != nil {
		return 0, err
	}
	if threads < 1 {
		return 0, env.NewError("exec", hostname, env.KindCapacityExceeded, errNoThreads)
	}
	if !h.snap.AdminRights {
		return 0, env.NewError("exec", hostname, env.KindInsufficientPrivilege, nil)
	}
	spec, ok := w.scripts[script]
	if !ok || !h.files[script] {
		return 0, env.NewError("exec", hostname, env.KindNotFound, fmt.Errorf("%s not present", script))
	}
	if h.faults.Exec {
		return 0, env.NewError("exec", hostname, env.KindTransportFailure, errFault)
	}
	ram := spec.RAM * float64(threads)
	if ram > h.snap.FreeRAM() {
		return 0, env.NewError("exec", hostname, env.KindCapacityExceeded,
			fmt.Errorf("need %.2fGB, %.2fGB free", ram, h.snap.FreeRAM()))
	}
	h.snap.UsedRAM += ram
	p := &process{
		pid:       w.nextPID,
		script:    script,
		host:      hostname,
		threads:   threads,
		args:      append([]string(nil), args...),
		ram:       ram,
		remaining: w.tuning.Duration,
	}
	w.nextPID++
	w.procs = append(w.procs, p)
	return p.pid, nil
}

// Advance moves every running script one step forward. Scripts that finish
// release their memory and apply their effect to the target named by their
// first argument. It returns the number of scripts that completed.
func (w *World) Advance() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	completed := 0
	kept := w.procs[:0]
	for _, p := range w.procs {
		p.remaining--
		if p.remaining > 0 {
			kept = append(kept, p)
			continue
		}
		completed++
		if h, ok := w.hosts[p.host]; ok {
			h.snap.UsedRAM = math.Max(0, h.snap.UsedRAM-p.ram)
		}
		if len(p.args) > 0 {
			w.apply(w.scripts[p.script].Effect, p.args[0], p.threads)
		}
	}
	for i := len(kept); i < len(w.procs); i++ {
		w.procs[i] = nil
	}
	w.procs = kept
	return completed
}

func (w *World) apply(effect Effect, target string, threads int) {
	h, ok := w.hosts[target]
	if !ok {
		return
	}
	t := w.tuning
	n := float64(threads)
	s := &h.snap
	switch effect {
	case EffectWeaken:
		s.SecurityLevel = math.Max(s.MinSecurityLevel, s.SecurityLevel-t.WeakenPerThread*n)
	case EffectGrow:
		s.MoneyAvailable = math.Min(s.MaxMoney, (s.MoneyAvailable+n)*(1+t.GrowPerThread*n))
		s.SecurityLevel = math.Min(t.MaxSecurity, s.SecurityLevel+t.GrowSecurity*n)
	case EffectHack:
		stolen := math.Min(s.MoneyAvailable, s.MoneyAvailable*t.HackPerThread*n)
		s.MoneyAvailable -= stolen
		w.harvested += stolen
		s.SecurityLevel = math.Min(t.MaxSecurity, s.SecurityLevel+t.HackSecurity*n)
	}
}

// Harvested returns the total money extracted so far.
func (w *World) Harvested() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.harvested
}

// Process is a read-only view of a running script.
type Process struct {
	PID     env.PID
	Script  string
	Host    string
	Threads int
	Args    []string
}

// Processes lists running scripts in launch order.
func (w *World) Processes() []Process {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Process, 0, len(w.procs))
	for _, p := range w.procs {
		out = append(out, Process{
			PID:     p.pid,
			Script:  p.script,
			Host:    p.host,
			Threads: p.threads,
			Args:    append([]string(nil), p.args...),
		})
	}
	return out
}

// Hosts returns every host name in declaration order, root first.
func (w *World) Hosts() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.order...)
}

// Files lists the files present on hostname.
func (w *World) Files(hostname string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.hosts[hostname]
	if !ok {
		return nil
	}
	files := make([]string, 0, len(h.files))
	for f := range h.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// SetSkill changes the operator's skill level.
func (w *World) SetSkill(level int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.skill = level
}

// AddArtifact places file on the root host.
func (w *World) AddArtifact(file string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hosts[w.root].files[file] = true
}

// SetFaults replaces the injected faults for hostname.
func (w *World) SetFaults(hostname string, faults Faults) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.hosts[hostname]
	if !ok {
		return fmt.Errorf("sim: unknown host %s", hostname)
	}
	h.faults = faults
	return nil
}

// Mutate edits the stored snapshot of hostname in place.
func (w *World) Mutate(hostname string, fn func(*node.Snapshot)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.hosts[hostname]
	if !ok {
		return fmt.Errorf("sim: unknown host %s", hostname)
	}
	fn(&h.snap)
	h.snap.Hostname = hostname
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func equalArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
