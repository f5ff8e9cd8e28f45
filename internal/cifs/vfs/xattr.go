package vfs

import (
	"strings"

	"golang.org/x/sys/unix"

	"github.com/opencifsd/cifsd/internal/cifserr"
)

// GetXattr fetches the value of attr on path using the standard
// two-phase probe: an initial zero-length call to size the buffer,
// then a second call to fill it, matching the size-then-fetch
// round trip the wire GET_EXTENDED_ATTRIBUTE request expects.
func GetXattr(path, attr string) ([]byte, error) {
	size, err := unix.Lgetxattr(path, attr, nil)
	if err != nil {
		return nil, translateXattrError(err)
	}
	if size == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, size)
	n, err := unix.Lgetxattr(path, attr, buf)
	if err != nil {
		return nil, translateXattrError(err)
	}
	return buf[:n], nil
}

// SetXattr stores value under attr on path.
func SetXattr(path, attr string, value []byte) error {
	if err := unix.Lsetxattr(path, attr, value, 0); err != nil {
		return translateXattrError(err)
	}
	return nil
}

// RemoveXattr deletes attr from path.
func RemoveXattr(path, attr string) error {
	if err := unix.Lremovexattr(path, attr); err != nil {
		return translateXattrError(err)
	}
	return nil
}

// ListXattr lists every extended attribute name set on path, using the
// same two-phase size-then-fetch probe as GetXattr.
func ListXattr(path string) ([]string, error) {
	size, err := unix.Llistxattr(path, nil)
	if err != nil {
		return nil, translateXattrError(err)
	}
	if size == 0 {
		return nil, nil
	}

	buf := make([]byte, size)
	n, err := unix.Llistxattr(path, buf)
	if err != nil {
		return nil, translateXattrError(err)
	}
	return splitXattrNames(buf[:n]), nil
}

// RemoveAllStreamXattrs deletes every alternate-data-stream xattr on
// path, leaving DOS-attribute and creation-time metadata untouched.
func RemoveAllStreamXattrs(path string) error {
	names, err := ListXattr(path)
	if err != nil {
		return err
	}
	for _, name := range names {
		if strings.HasPrefix(name, StreamPrefix) {
			if err := RemoveXattr(path, name); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveNonStreamXattrs deletes every extended attribute on path that
// is not an alternate-data-stream slot.
func RemoveNonStreamXattrs(path string) error {
	names, err := ListXattr(path)
	if err != nil {
		return err
	}
	for _, name := range names {
		if !strings.HasPrefix(name, StreamPrefix) {
			if err := RemoveXattr(path, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitXattrNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}

func translateXattrError(err error) error {
	if err == unix.ENODATA {
		return cifserr.NotFound("extended attribute not set", err)
	}
	if err == unix.ENOENT {
		return cifserr.NotFound("path does not exist", err)
	}
	if err == unix.ERANGE {
		return cifserr.Resource("extended attribute value exceeds maximum", err)
	}
	return cifserr.Resource("extended attribute operation failed", err)
}
