package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/metrics"
	"github.com/JakeFAU/lenscrawl/internal/queue"
	"github.com/JakeFAU/lenscrawl/internal/state"
)

// HostModule is the import namespace plugins link against.
const HostModule = "spyglass"

// ErrUnknownPlugin is returned for names that were never loaded.
var ErrUnknownPlugin = errors.New("unknown plugin")

// Info describes a loaded plugin for listings.
type Info struct {
	Name        string `json:"name"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Type        Type   `json:"plugin_type"`
	Enabled     bool   `json:"is_enabled"`
	Running     bool   `json:"is_running"`
}

// Manager loads plugins and serves their host calls.
type Manager struct {
	runtime wazero.Runtime
	queue   Enqueuer
	filter  queue.Filter
	state   *state.AppState
	logger  *zap.Logger

	mu      sync.Mutex
	plugins map[string]*instance
}

type instance struct {
	cfg    Config
	caps   Capabilities
	stdout *pipe
	module api.Module
}

// pipe collects a plugin's stdout between host calls.
type pipe struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (p *pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Write(b)
}

// Drain returns everything written since the last call.
func (p *pipe) Drain() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.buf.String()
	p.buf.Reset()
	return out
}

// NewManager builds the wazero runtime with WASI and the host module.
// filter, when set, drops plugin URLs before they reach the queue.
func NewManager(ctx context.Context, st *state.AppState, q Enqueuer, filter queue.Filter, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		runtime: wazero.NewRuntime(ctx),
		queue:   q,
		filter:  filter,
		state:   st,
		logger:  logger.Named("plugin"),
		plugins: make(map[string]*instance),
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, m.runtime); err != nil {
		_ = m.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}
	_, err := m.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().WithFunc(m.pluginCmd).Export("plugin_cmd").
		NewFunctionBuilder().WithFunc(m.pluginLog).Export("plugin_log").
		Instantiate(ctx)
	if err != nil {
		_ = m.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	return m, nil
}

// LoadDir registers every subdirectory of dir holding a manifest and a
// module. Broken plugins are logged and skipped.
func (m *Manager) LoadDir(dir string) ([]Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plugin dir %s: %w", dir, err)
	}
	var loaded []Config
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		cfg, err := LoadManifest(path)
		if err != nil {
			m.logger.Warn("invalid plugin structure", zap.String("path", path), zap.Error(err))
			continue
		}
		if _, err := os.Stat(cfg.ModulePath()); err != nil {
			m.logger.Warn("plugin module missing", zap.String("plugin", cfg.Name), zap.Error(err))
			continue
		}
		m.Register(cfg)
		loaded = append(loaded, cfg)
	}
	return loaded, nil
}

// Register adds a plugin without starting it. Plugins start enabled.
func (m *Manager) Register(cfg Config) {
	inst := &instance{
		cfg:    cfg,
		caps:   newHostCaps(cfg, cfg.DataPath(), m.queue, m.filter, m.logger),
		stdout: &pipe{},
	}
	m.mu.Lock()
	m.plugins[cfg.Name] = inst
	m.mu.Unlock()
	m.state.RegisterPlugin(cfg.Name, true)
	m.logger.Info("plugin found", zap.String("plugin", cfg.Name), zap.String("type", string(cfg.Type)))
}

func (m *Manager) lookup(name string) *instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plugins[name]
}

// StartAll starts every enabled plugin. Failures are logged.
func (m *Manager) StartAll(ctx context.Context) {
	for _, info := range m.List() {
		if !info.Enabled || info.Running {
			continue
		}
		if err := m.Start(ctx, info.Name); err != nil {
			m.logger.Error("unable to init plugin", zap.String("plugin", info.Name), zap.Error(err))
		}
	}
}

// Start instantiates a plugin, running its _start function and then its
// request_queue export when present.
func (m *Manager) Start(ctx context.Context, name string) error {
	inst := m.lookup(name)
	if inst == nil {
		return fmt.Errorf("start %q: %w", name, ErrUnknownPlugin)
	}
	wasm, err := os.ReadFile(inst.cfg.ModulePath())
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}
	if err := os.MkdirAll(inst.cfg.DataPath(), 0o750); err != nil {
		return fmt.Errorf("create plugin data dir: %w", err)
	}
	compiled, err := m.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}

	config := wazero.NewModuleConfig().
		WithName(name).
		WithStdout(inst.stdout).
		WithStderr(inst.stdout).
		WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount(inst.cfg.DataPath(), "/data"))
	for k, v := range inst.cfg.UserSettings {
		config = config.WithEnv(k, v)
	}

	mod, err := m.runtime.InstantiateModule(ctx, compiled, config)
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			m.logger.Debug("plugin exited after start", zap.String("plugin", name))
			return nil
		}
		return fmt.Errorf("instantiate %s: %w", name, err)
	}

	m.mu.Lock()
	inst.module = mod
	m.mu.Unlock()

	if fn := mod.ExportedFunction("request_queue"); fn != nil {
		if _, err := fn.Call(ctx); err != nil {
			m.logger.Error("request_queue failed", zap.String("plugin", name), zap.Error(err))
		}
	}
	return nil
}

// Stop closes a running plugin instance.
func (m *Manager) Stop(ctx context.Context, name string) error {
	m.mu.Lock()
	inst, ok := m.plugins[name]
	var mod api.Module
	if ok {
		mod, inst.module = inst.module, nil
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("stop %q: %w", name, ErrUnknownPlugin)
	}
	if mod == nil {
		return nil
	}
	if err := mod.Close(ctx); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

// Toggle flips a plugin's enabled flag, starting or stopping it. It
// returns the new flag.
func (m *Manager) Toggle(ctx context.Context, name string) (bool, error) {
	if m.lookup(name) == nil {
		return false, fmt.Errorf("toggle %q: %w", name, ErrUnknownPlugin)
	}
	enabled, ok := m.state.TogglePlugin(name)
	if !ok {
		return false, fmt.Errorf("toggle %q: %w", name, ErrUnknownPlugin)
	}
	if enabled {
		return true, m.Start(ctx, name)
	}
	return false, m.Stop(ctx, name)
}

// List describes every registered plugin sorted by name.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.plugins))
	for name, inst := range m.plugins {
		out = append(out, Info{
			Name:        name,
			Author:      inst.cfg.Author,
			Description: inst.cfg.Description,
			Type:        inst.cfg.Type,
			Running:     inst.module != nil,
		})
	}
	m.mu.Unlock()
	for i := range out {
		out[i].Enabled = m.state.PluginEnabled(out[i].Name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close tears down every instance and the runtime.
func (m *Manager) Close(ctx context.Context) error {
	if err := m.runtime.Close(ctx); err != nil {
		return fmt.Errorf("close plugin runtime: %w", err)
	}
	return nil
}

func (m *Manager) pluginCmd(ctx context.Context, mod api.Module) {
	inst := m.lookup(mod.Name())
	if inst == nil {
		return
	}
	payload := strings.TrimSpace(inst.stdout.Drain())
	name := inst.cfg.Name
	if !m.state.PluginEnabled(name) {
		m.logger.Debug("ignoring command from disabled plugin", zap.String("plugin", name))
		return
	}
	cmd, err := ParseCommand(payload)
	if err != nil {
		m.logger.Error("could not parse plugin command", zap.String("plugin", name), zap.Error(err))
		return
	}
	metrics.ObservePluginCommand(name, cmd.Name())
	if err := Dispatch(ctx, inst.caps, cmd); err != nil {
		m.logger.Error("could not handle plugin command",
			zap.String("plugin", name),
			zap.String("command", cmd.Name()),
			zap.Error(err))
	}
}

func (m *Manager) pluginLog(_ context.Context, mod api.Module) {
	inst := m.lookup(mod.Name())
	if inst == nil {
		return
	}
	msg := strings.TrimSpace(inst.stdout.Drain())
	if msg == "" {
		return
	}
	metrics.ObservePluginCommand(inst.cfg.Name, "log")
	inst.caps.Log(msg)
}
