package fuse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/nodefs"
	"github.com/hanwen/go-fuse/v2/pathfs"
)

// MountConfig carries everything MountManager needs to bring a Facade up as
// a live mount.
type MountConfig struct {
	MountPoint string        `yaml:"mount_point"`
	Options    *MountOptions `yaml:"options"`
}

// MountOptions mirrors the FUSE mount options the original ObjectFS exposed;
// the options with no read-only-filesystem meaning (KeepCache, BigWrites,
// splice tuning) were dropped rather than carried as dead fields.
type MountOptions struct {
	AllowOther   bool `yaml:"allow_other"`
	AllowRoot    bool `yaml:"allow_root"`
	DefaultPerms bool `yaml:"default_permissions"`

	Debug        bool          `yaml:"debug"`
	FSName       string        `yaml:"fsname"`
	Subtype      string        `yaml:"subtype"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
	MaxWrite     uint32        `yaml:"max_write"`
}

// DefaultMountOptions returns the options NewMountManager falls back to
// when config.Options is nil.
func DefaultMountOptions() *MountOptions {
	return &MountOptions{
		FSName:       "b2fs",
		Subtype:      "b2",
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
		MaxWrite:     128 * 1024,
	}
}

// MountManager owns the lifecycle of one FUSE mount: building the
// pathfs/nodefs server stack around a Facade, starting it, and tearing it
// down. It never touches the Facade's domain logic directly.
type MountManager struct {
	facade *Facade
	config *MountConfig
	logger Logger

	mu      sync.Mutex
	server  *fuse.Server
	mounted bool
	done    chan struct{}
}

// NewMountManager builds a MountManager for facade. A nil config (or a nil
// config.Options) falls back to DefaultMountOptions.
func NewMountManager(facade *Facade, config *MountConfig, logger Logger) *MountManager {
	if config == nil {
		config = &MountConfig{}
	}
	if config.Options == nil {
		config.Options = DefaultMountOptions()
	}
	return &MountManager{facade: facade, config: config, logger: logger}
}

// Mount brings the filesystem up at config.MountPoint. ctx is accepted for
// interface symmetry with the rest of the daemon's lifecycle methods but is
// not threaded into go-fuse, which has no context-aware mount call.
func (m *MountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return fmt.Errorf("filesystem is already mounted")
	}
	if err := m.validateMountPoint(); err != nil {
		return fmt.Errorf("invalid mount point: %w", err)
	}

	nodeFsOpts := &pathfs.PathNodeFsOptions{Debug: m.config.Options.Debug}
	pathNodeFs := pathfs.NewPathNodeFs(m.facade, nodeFsOpts)

	connOpts := nodefs.NewOptions()
	connOpts.EntryTimeout = m.config.Options.EntryTimeout
	connOpts.AttrTimeout = m.config.Options.AttrTimeout
	connOpts.Debug = m.config.Options.Debug
	conn := nodefs.NewFileSystemConnector(pathNodeFs.Root(), connOpts)

	fuseOpts := &fuse.MountOptions{
		Name:        m.config.Options.FSName,
		FsName:      m.config.Options.FSName,
		Debug:       m.config.Options.Debug,
		AllowOther:  m.config.Options.AllowOther,
		MaxWrite:    int(m.config.Options.MaxWrite),
		Options:     []string{"ro"},
	}
	if m.config.Options.AllowRoot {
		fuseOpts.Options = append(fuseOpts.Options, "allow_root")
	}
	if m.config.Options.Subtype != "" {
		fuseOpts.Options = append(fuseOpts.Options, fmt.Sprintf("subtype=%s", m.config.Options.Subtype))
	}

	server, err := fuse.NewServer(conn.RawFS(), m.config.MountPoint, fuseOpts)
	if err != nil {
		return fmt.Errorf("mount filesystem: %w", err)
	}

	m.server = server
	m.mounted = true
	m.done = make(chan struct{})

	if m.logger != nil {
		m.logger.Infof("b2fs mounted at %s", m.config.MountPoint)
	}

	go func() {
		server.Serve()
		m.mu.Lock()
		m.mounted = false
		m.mu.Unlock()
		if m.logger != nil {
			m.logger.Infof("b2fs unmounted from %s", m.config.MountPoint)
		}
		close(m.done)
	}()

	return nil
}

// Unmount tears the mount down, falling back to a lazy kernel unmount if
// the cooperative FUSE unmount fails (e.g. a client still has the mount
// point as its working directory).
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	server := m.server
	mounted := m.mounted
	m.mu.Unlock()

	if !mounted || server == nil {
		return fmt.Errorf("filesystem is not mounted")
	}

	if err := server.Unmount(); err != nil {
		if m.logger != nil {
			m.logger.Errorf("cooperative unmount failed, forcing: %v", err)
		}
		if forceErr := syscall.Unmount(m.config.MountPoint, syscall.MNT_DETACH); forceErr != nil {
			return fmt.Errorf("unmount failed: %w (force unmount also failed: %v)", err, forceErr)
		}
	}
	return nil
}

// IsMounted reports whether the mount's serve loop is still running.
func (m *MountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// Wait blocks until the serve loop exits (normally, via Unmount).
func (m *MountManager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stats returns the facade's operation counters.
func (m *MountManager) Stats() Stats {
	return m.facade.Stats()
}

func (m *MountManager) validateMountPoint() error {
	if m.config.MountPoint == "" {
		return fmt.Errorf("mount point cannot be empty")
	}
	info, err := os.Stat(m.config.MountPoint)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("mount point does not exist: %s", m.config.MountPoint)
		}
		return fmt.Errorf("cannot access mount point: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point is not a directory: %s", m.config.MountPoint)
	}
	entries, err := os.ReadDir(m.config.MountPoint)
	if err != nil {
		return fmt.Errorf("cannot read mount point directory: %w", err)
	}
	if len(entries) > 0 && m.logger != nil {
		m.logger.Infof("mount point %s is not empty", filepath.Clean(m.config.MountPoint))
	}
	return nil
}
