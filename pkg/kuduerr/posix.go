package kuduerr

import (
	"errors"
	"syscall"
)

const enospc = int(syscall.ENOSPC)

// ClassifyIOError maps a raw OS-level error to an IOError Status, marking
// ENOSPC distinctly so callers (pkg/fs) can treat it as "dir full" rather
// than "dir failed" per spec §4.A / §7.
func ClassifyIOError(cause error, context string) *Status {
	var errno syscall.Errno
	if errors.As(cause, &errno) {
		return Wrap(cause, IOError, "%s: %v", context, cause).withPosix(int(errno))
	}
	return Wrap(cause, IOError, "%s: %v", context, cause)
}

func (s *Status) withPosix(code int) *Status {
	s.posixCode = code
	return s
}
