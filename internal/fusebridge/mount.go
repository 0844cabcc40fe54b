package fusebridge

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/quantumfs/quantumfs/internal/config"
)

// MountManager drives the lifecycle of one FUSE mount: validating the
// mount point, building fs.Options from config.MountConfig, and
// starting/stopping the go-fuse server. Grounded on the teacher's
// internal/fuse.MountManager, narrowed to QuantumFS's read-only,
// single-revision model — there is no Remount-with-new-options or
// write-path config here, since a mount's RevisionTag and adapters are
// fixed for its lifetime.
type MountManager struct {
	bridge *Bridge
	config config.MountConfig
	logger *slog.Logger

	mu      sync.Mutex
	server  *fuse.Server
	mounted bool
}

// NewMountManager builds a MountManager that will mount bridge at
// cfg.MountPoint when Mount is called.
func NewMountManager(bridge *Bridge, cfg config.MountConfig, logger *slog.Logger) *MountManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &MountManager{bridge: bridge, config: cfg, logger: logger}
}

// Mount validates the mount point and starts serving FUSE requests in
// the background, returning once the mount syscall itself succeeds
// (not once the server stops).
func (m *MountManager) Mount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return fmt.Errorf("fusebridge: already mounted at %s", m.config.MountPoint)
	}
	if err := m.validateMountPoint(); err != nil {
		return fmt.Errorf("fusebridge: invalid mount point: %w", err)
	}

	opts := m.buildFUSEOptions()
	server, err := fs.Mount(m.config.MountPoint, m.bridge.Root(), opts)
	if err != nil {
		return fmt.Errorf("fusebridge: mount failed: %w", err)
	}

	m.server = server
	m.mounted = true
	m.logger.Info("mounted", "mount_point", m.config.MountPoint, "fsname", m.config.FSName)

	go func() {
		m.server.Wait()
		m.mu.Lock()
		m.mounted = false
		m.mu.Unlock()
		m.logger.Info("fuse server stopped", "mount_point", m.config.MountPoint)
	}()

	return nil
}

// Unmount stops serving FUSE requests at this mount point, releasing
// every handle the bridge still holds open. It tries a clean unmount
// first and falls back to a forced one if the kernel refuses (e.g. a
// client still has the mount point as its working directory).
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	server := m.server
	mounted := m.mounted
	m.mu.Unlock()

	if !mounted || server == nil {
		return fmt.Errorf("fusebridge: not mounted")
	}

	m.bridge.Destroy()

	if err := server.Unmount(); err != nil {
		m.logger.Warn("clean unmount failed, forcing", "error", err)
		if forceErr := m.forceUnmount(); forceErr != nil {
			return fmt.Errorf("fusebridge: unmount failed: %w (force unmount also failed: %v)", err, forceErr)
		}
	}

	m.mu.Lock()
	m.mounted = false
	m.server = nil
	m.mu.Unlock()
	return nil
}

// IsMounted reports whether this manager currently has an active
// mount.
func (m *MountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// Wait blocks until the FUSE server stops serving, whether from a
// clean unmount, a forced one, or the kernel tearing it down.
func (m *MountManager) Wait() {
	m.mu.Lock()
	server := m.server
	m.mu.Unlock()
	if server != nil {
		server.Wait()
	}
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
	if m.isAlreadyMounted() {
		return fmt.Errorf("mount point %s is already mounted", m.config.MountPoint)
	}
	return nil
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	attrTimeout := m.config.AttrTimeout
	entryTimeout := m.config.EntryTimeout

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:        fsNameOrDefault(m.config.FSName),
			FsName:      fsNameOrDefault(m.config.FSName),
			DirectMount: true,
			AllowOther:  m.config.AllowOther,
			MaxWrite:    int(m.config.MaxWrite),
		},
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
		// QuantumFS never checks caller uid/gid against catalog
		// ownership (see DESIGN.md), so the kernel should not
		// enforce permission bits on our behalf either.
		NullPermissions: true,
	}

	if m.config.ReadOnly {
		opts.Options = append(opts.Options, "ro")
	}
	opts.Options = append(opts.Options, fmt.Sprintf("fsname=%s", fsNameOrDefault(m.config.FSName)))
	opts.Options = append(opts.Options, "subtype=qfs")

	return opts
}

func fsNameOrDefault(name string) string {
	if name == "" {
		return "qfs"
	}
	return name
}

func (m *MountManager) isAlreadyMounted() bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	mountPoint := filepath.Clean(m.config.MountPoint)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == mountPoint {
			return true
		}
	}
	return false
}

func (m *MountManager) forceUnmount() error {
	if err := syscall.Unmount(m.config.MountPoint, syscall.MNT_DETACH); err == nil {
		return nil
	}
	return syscall.Unmount(m.config.MountPoint, syscall.MNT_FORCE)
}
