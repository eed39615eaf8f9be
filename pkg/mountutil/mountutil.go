// Package mountutil wraps the raw mount(2)/pivot_root(2) sequences a knot
// performs when assembling a container's filesystem: making the mount
// namespace private, bind-mounting the image read-only, mounting tmpfs
// volumes, and pivoting into the new root. The flag combinations mirror
// those used by chroot-based OCI runtimes.
package mountutil

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"lithos/pkg/errs"
)

// MakePrivate recursively marks mnt (and everything under it) MS_PRIVATE so
// that later mount/unmount operations inside the knot's namespace do not
// propagate back to the host.
func MakePrivate(mnt string) error {
	if err := unix.Mount("", mnt, "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return errs.New(errs.Mount, "make-private", mnt, err)
	}
	return nil
}

// BindRec performs a recursive bind mount of src onto dst. dst must already
// exist.
func BindRec(src, dst string) error {
	if err := unix.Mount(src, dst, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return errs.New(errs.Mount, "bind-rec", dst, fmt.Errorf("bind %s: %w", src, err))
	}
	return nil
}

// Bind performs a non-recursive bind mount.
func Bind(src, dst string) error {
	if err := unix.Mount(src, dst, "", unix.MS_BIND, ""); err != nil {
		return errs.New(errs.Mount, "bind", dst, fmt.Errorf("bind %s: %w", src, err))
	}
	return nil
}

// RemountROrec remounts an existing recursive bind mount read-only. The
// kernel requires MS_REMOUNT|MS_BIND to change flags on an existing mount;
// a plain MS_RDONLY on the original mount call is not honored for bind
// mounts.
func RemountROrec(target string) error {
	flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY | unix.MS_REC)
	if err := unix.Mount("", target, "", flags, ""); err != nil {
		return errs.New(errs.Mount, "remount-ro", target, err)
	}
	return nil
}

// MountTmpfs mounts a tmpfs at target, optionally size-limited via opts
// (e.g. "size=64m"). target must exist.
func MountTmpfs(target, opts string) error {
	flags := uintptr(unix.MS_NOSUID | unix.MS_NODEV)
	if err := unix.Mount("tmpfs", target, "tmpfs", flags, opts); err != nil {
		return errs.New(errs.Mount, "mount-tmpfs", target, err)
	}
	return nil
}

// MountPseudo mounts one of the fixed pseudo-filesystems (proc, sysfs,
// devtmpfs) a container's state dir needs bound in before pivot_root.
func MountPseudo(fstype, target string) error {
	var flags uintptr
	switch fstype {
	case "proc":
		flags = unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC
	case "sysfs":
		flags = unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC | unix.MS_RDONLY
	case "devtmpfs":
		flags = unix.MS_NOSUID
	default:
		return errs.New(errs.Mount, "mount-pseudo", target, fmt.Errorf("unsupported pseudo fstype %q", fstype))
	}
	if err := unix.Mount(fstype, target, fstype, flags, ""); err != nil {
		return errs.New(errs.Mount, "mount-pseudo", target, err)
	}
	return nil
}

// Unmount detaches target, retrying with MNT_DETACH (lazy unmount) if the
// immediate unmount reports EBUSY.
func Unmount(target string) error {
	if err := unix.Unmount(target, 0); err != nil {
		if err == unix.EBUSY {
			if err2 := unix.Unmount(target, unix.MNT_DETACH); err2 != nil {
				return errs.New(errs.Mount, "unmount", target, err2)
			}
			return nil
		}
		return errs.New(errs.Mount, "unmount", target, err)
	}
	return nil
}

// PivotRoot performs pivot_root(newRoot, putOld) and then unmounts and
// removes putOld, matching the standard chroot-runtime sequence: chdir
// into newRoot first, pivot, chdir to "/", lazily unmount the old root at
// its new mount point, then remove the now-empty directory.
func PivotRoot(newRoot, putOldRelDir string) error {
	if err := os.Chdir(newRoot); err != nil {
		return errs.New(errs.Mount, "pivot-root", newRoot, fmt.Errorf("chdir: %w", err))
	}
	putOld := newRoot + "/" + putOldRelDir
	if err := os.MkdirAll(putOld, 0700); err != nil {
		return errs.New(errs.Mount, "pivot-root", putOld, fmt.Errorf("mkdir put_old: %w", err))
	}
	if err := unix.PivotRoot(newRoot, putOld); err != nil {
		return errs.New(errs.Mount, "pivot-root", newRoot, err)
	}
	if err := unix.Chdir("/"); err != nil {
		return errs.New(errs.Mount, "pivot-root", "/", fmt.Errorf("chdir after pivot: %w", err))
	}
	oldRootMounted := "/" + putOldRelDir
	if err := unix.Unmount(oldRootMounted, unix.MNT_DETACH); err != nil {
		return errs.New(errs.Mount, "pivot-root", oldRootMounted, fmt.Errorf("detach old root: %w", err))
	}
	if err := os.RemoveAll(oldRootMounted); err != nil {
		return errs.New(errs.Mount, "pivot-root", oldRootMounted, fmt.Errorf("remove put_old: %w", err))
	}
	return nil
}

// EnsureDir creates dir (and parents) if missing, matching the permissive
// mode the image assembly step uses for mount points it creates itself.
func EnsureDir(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return errs.New(errs.Filesystem, "mkdir", dir, err)
	}
	return nil
}
