//go:build windows

package controlsocket

import "net"

// Listen opens the control socket as a TCP listener on loopback: Windows
// has no Unix domain socket support old enough to rely on, so the original
// implementation falls back to a local TCP port there instead.
func Listen(socketPath string) (net.Listener, error) {
	return net.Listen("tcp", "127.0.0.1:0")
}
