//go:build unix

package evloop

import "golang.org/x/sys/unix"

// wrapOSError classifies a syscall error into this package's Code taxonomy
// and wraps it as an *Error tagged with op, for backend syscalls.
func wrapOSError(op string, err error) error {
	return &Error{Code: codeForErrno(err), Op: op, Err: err}
}

func codeForErrno(err error) Code {
	switch err {
	case unix.EINVAL:
		return CodeInvalidArgument
	case unix.ENOENT:
		return CodeNotFound
	case unix.EEXIST:
		return CodeExists
	case unix.ENOMEM:
		return CodeOutOfMemory
	case unix.EPERM, unix.EACCES:
		return CodePermission
	case unix.EBUSY:
		return CodeBusy
	default:
		return CodeNoSystemCall
	}
}
