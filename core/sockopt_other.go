//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package core

import (
	"net"
	"syscall"
)

func listenControl(network, address string, rc syscall.RawConn) error {
	return nil
}

func tuneConn(nc net.Conn) {}
