//go:build !windows

package privilege

import (
	"fmt"
	"os"
	"syscall"

	"github.com/moby/sys/user"
	"golang.org/x/sys/unix"
)

// OS is the System backed by the running kernel.
type OS struct{}

// NewSystem returns the operating system implementation of System.
func NewSystem() System {
	return OS{}
}

func (OS) Geteuid() int {
	return os.Geteuid()
}

// LookupUser resolves name through /etc/passwd. Numeric names are not
// treated as uids.
func (OS) LookupUser(name string) (Identity, error) {
	u, err := user.LookupUser(name)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %s: %v", ErrUnknownUser, name, err)
	}
	return Identity{Name: u.Name, UID: u.Uid, GID: u.Gid}, nil
}

func (OS) Chown(path string, uid, gid int) error {
	return unix.Chown(path, uid, gid)
}

// The identity calls go through package syscall rather than x/sys/unix:
// on Linux the syscall versions apply to every thread of the process, the
// raw unix ones only to the calling thread.

func (OS) Setgroups(gids []int) error {
	return syscall.Setgroups(gids)
}

func (OS) Setgid(gid int) error {
	return syscall.Setgid(gid)
}

func (OS) Setuid(uid int) error {
	return syscall.Setuid(uid)
}

// Writable checks write and search permission on dir for the real uid, which
// equals the effective uid once Drop has run.
func (OS) Writable(dir string) error {
	return unix.Access(dir, unix.W_OK|unix.X_OK)
}
