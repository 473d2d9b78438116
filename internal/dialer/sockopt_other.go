//go:build !darwin && !linux
// +build !darwin,!linux

package dialer

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
