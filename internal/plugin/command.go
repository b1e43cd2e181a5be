package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/queue"
)

// Errors reported while handling plugin calls.
var (
	ErrUnknownCommand   = errors.New("unknown plugin command")
	ErrCapabilityDenied = errors.New("capability not granted")
)

// Command is a request a plugin sends through plugin_cmd.
type Command interface {
	Name() string
}

// EnqueueCommand asks the host to crawl urls.
type EnqueueCommand struct {
	URLs []string
}

// Name implements Command.
func (EnqueueCommand) Name() string { return "Enqueue" }

// SyncFileCommand copies the host file src into the plugin's data
// directory under dst.
type SyncFileCommand struct {
	Dst string
	Src string
}

// Name implements Command.
func (SyncFileCommand) Name() string { return "SyncFile" }

// ParseCommand decodes a RON payload such as Enqueue(urls: ["..."]).
func ParseCommand(payload string) (Command, error) {
	v, err := Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	s, ok := v.(Struct)
	if !ok {
		return nil, fmt.Errorf("command is %T: %w", v, ErrUnknownCommand)
	}
	switch s.Name {
	case "Enqueue":
		raw, ok := Field(s, "urls")
		if !ok {
			return nil, fmt.Errorf("enqueue: missing urls: %w", ErrSyntax)
		}
		urls, err := Strings(raw)
		if err != nil {
			return nil, fmt.Errorf("enqueue urls: %w", err)
		}
		return EnqueueCommand{URLs: urls}, nil
	case "SyncFile":
		dst, okDst := Field(s, "dst")
		src, okSrc := Field(s, "src")
		dstStr, isDst := dst.(Str)
		srcStr, isSrc := src.(Str)
		if !okDst || !okSrc || !isDst || !isSrc {
			return nil, fmt.Errorf("sync file: dst and src must be strings: %w", ErrSyntax)
		}
		return SyncFileCommand{Dst: string(dstStr), Src: string(srcStr)}, nil
	default:
		return nil, fmt.Errorf("command %q: %w", s.Name, ErrUnknownCommand)
	}
}

// Capability names one host function a plugin may reach.
type Capability string

// The closed set of host capabilities.
const (
	CapEnqueue  Capability = "enqueue"
	CapLog      Capability = "log"
	CapSyncFile Capability = "sync_file"
)

// Capabilities is the host surface injected into one plugin instance.
type Capabilities interface {
	Enqueue(ctx context.Context, urls []string) error
	Log(msg string)
	SyncFile(ctx context.Context, dst, src string) error
}

// Dispatch runs cmd against caps.
func Dispatch(ctx context.Context, caps Capabilities, cmd Command) error {
	switch c := cmd.(type) {
	case EnqueueCommand:
		return caps.Enqueue(ctx, c.URLs)
	case SyncFileCommand:
		return caps.SyncFile(ctx, c.Dst, c.Src)
	default:
		return fmt.Errorf("dispatch %T: %w", cmd, ErrUnknownCommand)
	}
}

// Enqueuer is the slice of the crawl queue plugins feed.
type Enqueuer interface {
	EnqueueAll(ctx context.Context, urls []string, opts queue.Options, filter queue.Filter) (int, error)
}

// hostCaps implements Capabilities for one plugin, refusing anything its
// type does not grant.
type hostCaps struct {
	plugin  string
	dataDir string
	grants  map[Capability]bool
	queue   Enqueuer
	filter  queue.Filter
	logger  *zap.Logger
}

func newHostCaps(cfg Config, dataDir string, q Enqueuer, filter queue.Filter, logger *zap.Logger) *hostCaps {
	grants := make(map[Capability]bool)
	for _, c := range cfg.Type.Grants() {
		grants[c] = true
	}
	return &hostCaps{
		plugin:  cfg.Name,
		dataDir: dataDir,
		grants:  grants,
		queue:   q,
		filter:  filter,
		logger:  logger.With(zap.String("plugin", cfg.Name)),
	}
}

func (h *hostCaps) check(c Capability) error {
	if !h.grants[c] {
		return fmt.Errorf("plugin %s %s: %w", h.plugin, c, ErrCapabilityDenied)
	}
	return nil
}

func (h *hostCaps) Enqueue(ctx context.Context, urls []string) error {
	if err := h.check(CapEnqueue); err != nil {
		return err
	}
	if h.queue == nil {
		return fmt.Errorf("plugin %s enqueue: no queue configured", h.plugin)
	}
	n, err := h.queue.EnqueueAll(ctx, urls, queue.Options{
		Lenses: []string{h.plugin},
		Source: "plugin",
	}, h.filter)
	if err != nil {
		return fmt.Errorf("plugin %s enqueue: %w", h.plugin, err)
	}
	h.logger.Info("plugin enqueued urls", zap.Int("requested", len(urls)), zap.Int("new", n))
	return nil
}

func (h *hostCaps) Log(msg string) {
	if h.check(CapLog) != nil {
		return
	}
	h.logger.Info(msg)
}

func (h *hostCaps) SyncFile(_ context.Context, dst, src string) error {
	if err := h.check(CapSyncFile); err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("sync file %s: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("sync file %s: source must be a regular file", src)
	}

	base := filepath.Clean(h.dataDir)
	dir := filepath.Join(base, strings.TrimLeft(dst, "/"))
	target := filepath.Join(dir, filepath.Base(src))
	if !strings.HasPrefix(target, base+string(filepath.Separator)) {
		return fmt.Errorf("sync file %s: destination escapes data dir", dst)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("sync file mkdir: %w", err)
	}
	if err := copyFile(src, target); err != nil {
		return fmt.Errorf("sync file %s: %w", src, err)
	}
	h.logger.Info("synced file into plugin data", zap.String("src", src), zap.String("dst", target))
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close target: %w", err)
	}
	return nil
}
