//go:build !unix

package conn

import "syscall"

// controlReusePort is a no-op on non-unix platforms; the standard
// library's default listener behavior applies.
func controlReusePort(_ string, _ string, _ syscall.RawConn) error {
	return nil
}
