// pkg/recv/udp.go

package recv

import (
	"context"
	"net"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// udpReader feeds datagrams from one socket into a member stream.
type udpReader struct {
	conn *net.UDPConn
	s    *Stream
	pool sync.Pool
	wg   sync.WaitGroup
}

// AddUDPReader binds a UDP socket on laddr and pumps its datagrams into the
// stream until the socket is closed or the member stops. SO_REUSEPORT is
// set so multiple substreams can share one port across sockets, and the
// kernel receive buffer is raised to rcvbuf bytes when positive.
func (s *Stream) AddUDPReader(laddr string, rcvbuf int) error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				if serr == nil && rcvbuf > 0 {
					// SO_RCVBUFFORCE needs CAP_NET_ADMIN; fall back to the
					// clamped variant.
					if unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, rcvbuf) != nil {
						serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, rcvbuf)
					}
				}
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp", laddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", laddr)
	}
	r := &udpReader{conn: pc.(*net.UDPConn), s: s}
	r.pool.New = func() interface{} {
		return make([]byte, s.config.MaxPacketSize)
	}
	s.addReader(r)
	r.wg.Add(1)
	go r.run()
	return nil
}

func (r *udpReader) run() {
	defer r.wg.Done()
	for {
		buf := r.pool.Get().([]byte)
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			// Closed by Stop, or a fatal socket error; either way the
			// member stops (stopReceived is idempotent).
			r.s.exec.Post(r.s.stopReceived)
			return
		}
		data := buf[:n]
		r.s.exec.Post(func() {
			r.s.handlePacket(data)
			r.pool.Put(buf[:cap(buf)])
		})
	}
}

func (r *udpReader) Close() error {
	err := r.conn.Close()
	r.wg.Wait()
	return err
}
