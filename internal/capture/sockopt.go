package capture

import (
	"net"
	"syscall"
)

// mirrorRecvBuffer is the receive buffer requested for the mirror socket.
const mirrorRecvBuffer = 4 << 20

// listenConfig rebinds the port right after a restart and enlarges the
// receive buffer. A kernel that caps the buffer is not an error.
func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) {
				opErr = setSockopts(fd, mirrorRecvBuffer)
			}); err != nil {
				return err
			}
			return opErr
		},
	}
}
