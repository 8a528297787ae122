package netutil

import (
	"fmt"
	"net"

	"github.com/eleven-am/crosslink/internal/domain"
)

// ListenTCP creates a TCP listener on host and port. Port 0 lets the OS
// choose; the port actually bound is returned.
func ListenTCP(host string, port int) (net.Listener, int, error) {
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, 0, domain.NewConnectionError(addr, err)
	}

	actualPort := listener.Addr().(*net.TCPAddr).Port
	return listener, actualPort, nil
}
