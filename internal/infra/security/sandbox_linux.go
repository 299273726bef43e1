//go:build linux && (amd64 || arm64)

package security

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"twingate/internal/domain"
)

// Syscalls denied to sandboxed plugin processes. Everything else is
// allowed; the list targets kernel and hardware takeover vectors, not
// general capability reduction.
var deniedSyscalls = []uint32{
	unix.SYS_PTRACE,
	unix.SYS_KEXEC_LOAD,
	unix.SYS_KEXEC_FILE_LOAD,
	unix.SYS_REBOOT,
	unix.SYS_MOUNT,
	unix.SYS_UMOUNT2,
	unix.SYS_PIVOT_ROOT,
	unix.SYS_SWAPON,
	unix.SYS_SWAPOFF,
	unix.SYS_INIT_MODULE,
	unix.SYS_FINIT_MODULE,
	unix.SYS_DELETE_MODULE,
	unix.SYS_BPF,
	unix.SYS_PERF_EVENT_OPEN,
	unix.SYS_KEYCTL,
	unix.SYS_ADD_KEY,
	unix.SYS_REQUEST_KEY,
	unix.SYS_UNSHARE,
	unix.SYS_SETNS,
}

const (
	seccompDataNrOffset   = 0
	seccompDataArchOffset = 4
)

func bpfStmt(code uint16, k uint32) unix.SockFilter {
	return unix.SockFilter{Code: code, K: k}
}

func bpfJump(code uint16, k uint32, jt, jf uint8) unix.SockFilter {
	return unix.SockFilter{Code: code, Jt: jt, Jf: jf, K: k}
}

// denyListFilter builds a classic BPF program that returns EPERM for
// the denied syscalls and allows everything else. A foreign
// architecture kills the process outright since the syscall numbers
// would not mean what the filter thinks they mean.
func denyListFilter(denied []uint32) []unix.SockFilter {
	prog := []unix.SockFilter{
		bpfStmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, seccompDataArchOffset),
		bpfJump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, auditArch, 1, 0),
		bpfStmt(unix.BPF_RET|unix.BPF_K, unix.SECCOMP_RET_KILL_PROCESS),
		bpfStmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, seccompDataNrOffset),
	}
	for i, nr := range denied {
		// Jump over the remaining comparisons and the allow return.
		toDeny := uint8(len(denied) - i)
		prog = append(prog, bpfJump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, nr, toDeny, 0))
	}
	prog = append(prog,
		bpfStmt(unix.BPF_RET|unix.BPF_K, unix.SECCOMP_RET_ALLOW),
		bpfStmt(unix.BPF_RET|unix.BPF_K, unix.SECCOMP_RET_ERRNO|uint32(unix.EPERM)),
	)
	return prog
}

// InstallSandbox applies the deny-list seccomp filter to the calling
// process. It must run in the child, before exec, and a failure here
// must abort the launch rather than run the plugin unconfined.
func InstallSandbox() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return domain.E(domain.CodeInternal, "security.sandbox", "set no_new_privs", err)
	}
	filter := denyListFilter(deniedSyscalls)
	prog := unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}
	if err := unix.Prctl(unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER,
		uintptr(unsafe.Pointer(&prog)), 0, 0); err != nil {
		return domain.E(domain.CodeInternal, "security.sandbox", "install seccomp filter", err)
	}
	return nil
}

// SandboxSupported reports whether this platform can confine spawned
// plugins.
func SandboxSupported() bool { return true }
