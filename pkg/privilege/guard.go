// Package privilege enforces that the server starts as root and drops to an
// unprivileged account once its privileged resources are bound.
//
// The drop is one-way: supplementary groups, then the group id, then the user
// id. The group must change first because a process that has already given
// up uid 0 can no longer change its groups.
package privilege

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrNotPrivileged is returned when the effective user is not root.
	ErrNotPrivileged = errors.New("process is not running as root")

	// ErrUnknownUser is returned when the drop target cannot be resolved.
	ErrUnknownUser = errors.New("unknown user")

	// ErrDropFailed is returned when an identity change syscall fails.
	ErrDropFailed = errors.New("failed to drop privileges")

	// ErrNotWritable is returned by CheckWritable.
	ErrNotWritable = errors.New("directory is not writable")

	// ErrAlreadyDropped is returned by Drop when called a second time.
	ErrAlreadyDropped = errors.New("privileges already dropped")
)

// Identity is the user and group the process runs as after the drop.
type Identity struct {
	Name string
	UID  int
	GID  int
}

func (id Identity) String() string {
	return fmt.Sprintf("%s (uid=%d gid=%d)", id.Name, id.UID, id.GID)
}

// System is the set of operating system calls the guard drives.
type System interface {
	Geteuid() int
	LookupUser(name string) (Identity, error)
	Chown(path string, uid, gid int) error
	Setgroups(gids []int) error
	Setgid(gid int) error
	Setuid(uid int) error
	Writable(dir string) error
}

// Guard checks and drops process privileges.
type Guard struct {
	sys     System
	log     *slog.Logger
	dropped bool
}

// NewGuard creates a guard on top of sys.
func NewGuard(sys System, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Guard{sys: sys, log: log}
}

// CheckPrivileged returns ErrNotPrivileged unless the effective user is root.
func (g *Guard) CheckPrivileged() error {
	if euid := g.sys.Geteuid(); euid != 0 {
		return fmt.Errorf("%w (euid=%d)", ErrNotPrivileged, euid)
	}
	return nil
}

// Resolve looks up the account the process should drop to.
func (g *Guard) Resolve(name string) (Identity, error) {
	id, err := g.sys.LookupUser(name)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("%w: %s: %v", ErrUnknownUser, name, err)
	}
	return id, nil
}

// Drop hands ownership of paths to id and then permanently switches the
// process to id. Empty paths are skipped. Ownership changes happen first
// because only root may give files away.
func (g *Guard) Drop(id Identity, paths ...string) error {
	if g.dropped {
		return ErrAlreadyDropped
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := g.sys.Chown(path, id.UID, id.GID); err != nil {
			return fmt.Errorf("failed to change owner of %s to %s: %w", path, id.Name, err)
		}
		g.log.Debug("Changed file ownership", "path", path, "uid", id.UID, "gid", id.GID)
	}

	if err := g.sys.Setgroups([]int{id.GID}); err != nil {
		return fmt.Errorf("%w: setgroups(%d): %v", ErrDropFailed, id.GID, err)
	}
	if err := g.sys.Setgid(id.GID); err != nil {
		return fmt.Errorf("%w: setgid(%d): %v", ErrDropFailed, id.GID, err)
	}
	if err := g.sys.Setuid(id.UID); err != nil {
		return fmt.Errorf("%w: setuid(%d): %v", ErrDropFailed, id.UID, err)
	}

	g.dropped = true
	g.log.Info("Dropped privileges", "user", id.Name, "uid", id.UID, "gid", id.GID)
	return nil
}

// Dropped reports whether Drop completed.
func (g *Guard) Dropped() bool {
	return g.dropped
}

// CheckWritable returns ErrNotWritable if the current identity cannot
// create files in dir.
func (g *Guard) CheckWritable(dir string) error {
	if err := g.sys.Writable(dir); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotWritable, dir, err)
	}
	return nil
}
