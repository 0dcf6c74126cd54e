package server

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenBacklog es el backlog del listen(2).
const listenBacklog = 128

// Listen crea el socket de escucha: TCP IPv4, SO_REUSEADDR, ligado a todas
// las interfaces. port 0 pide un puerto efímero al sistema. El fd se
// entrega envuelto en un net.Listener; el caller lo cierra.
func Listen(port int) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)

	// permitir re-bind rápido tras un reinicio
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: port} // Addr cero = INADDR_ANY
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind port %d: %w", port, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setnonblock: %w", err)
	}

	f := os.NewFile(uintptr(fd), "listener")
	ln, err := net.FileListener(f)
	// FileListener duplica el fd; este se cierra siempre
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("filelistener: %w", err)
	}
	return ln, nil
}
