package procsignal

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// sigtimedwait is not wrapped by x/sys/unix on every architecture, so it is
// called directly via the raw syscall, the same pattern runtime-adjacent
// packages use for signal syscalls x/sys/unix leaves unwrapped.
func sigtimedwait(set *unix.Sigset_t, timeout *unix.Timespec) (int32, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_RT_SIGTIMEDWAIT,
		uintptr(unsafe.Pointer(set)),
		0,
		uintptr(unsafe.Pointer(timeout)),
		unsafe.Sizeof(*set),
		0, 0,
	)
	if errno != 0 {
		return 0, errno
	}
	return int32(r1), nil
}
