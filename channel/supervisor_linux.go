//go:build linux

package channel

import (
	"log"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/objcached/objcached/metrics"
)

// Control pipe signal bytes. Any single byte written wakes the supervisor's
// epoll_wait; the value distinguishes detach from terminate.
const (
	sigDetach    byte = 1
	sigTerminate byte = 2
)

// Supervisor is the single-threaded I/O loop described in §4.9: it owns the
// listening endpoint, the accepted-connection set, and one end of a control
// pipe used to deliver AskToDetach and Terminate in-process. Request decode
// and dispatch happen inline on its one goroutine unless a worker pool is
// configured (see handleConnReadable), per the teacher's single-goroutine accept-and-serve style in srv/srv.go,
// generalized here from a deadline-polling Accept loop to an epoll wait
// that also watches the control pipe.
type Supervisor struct {
	ch  *Channel
	log *log.Logger

	listeners map[int]net.Listener
	maxObjSz  int64

	pipeR, pipeW int
	epfd         int

	mu    sync.Mutex
	conns map[int]*conn

	workers *workerPool // nil when num_workers == 0
}

// NewSupervisor creates a supervisor for ch, listening on every locator in
// lns — spec.md's `listen` is a list, and each entry gets its own epoll
// registration sharing this one Channel and connection set, mirroring the
// teacher's srv.listen() spawning one accept path per configured locator.
// maxObjectSize sizes each accepted connection's attachment buffer.
// numWorkers, when > 0, enables the optional per-connection worker pool of
// §5's concurrency note; 0 keeps dispatch entirely on the supervisor's own
// goroutine.
func NewSupervisor(ch *Channel, lns []net.Listener, maxObjectSize int64, numWorkers int, logger *log.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = log.Default()
	}
	if len(lns) == 0 {
		return nil, unix.EINVAL
	}
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	s := &Supervisor{
		ch:        ch,
		log:       logger,
		listeners: make(map[int]net.Listener, len(lns)),
		maxObjSz:  maxObjectSize,
		pipeR:     fds[0],
		pipeW:     fds[1],
		epfd:      epfd,
		conns:     make(map[int]*conn),
	}
	if err := s.epollAdd(s.pipeR); err != nil {
		s.closeFDs()
		return nil, err
	}
	for _, ln := range lns {
		lnFd, err := listenerFd(ln)
		if err != nil {
			s.closeFDs()
			return nil, err
		}
		if err := s.epollAdd(lnFd); err != nil {
			s.closeFDs()
			return nil, err
		}
		s.listeners[lnFd] = ln
	}
	if numWorkers > 0 {
		s.workers = newWorkerPool(numWorkers)
	}
	return s, nil
}

func (s *Supervisor) epollAdd(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (s *Supervisor) epollDel(fd int) {
	unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (s *Supervisor) closeFDs() {
	unix.Close(s.pipeR)
	unix.Close(s.pipeW)
	unix.Close(s.epfd)
}

// Run ignores SIGPIPE, drives the supervisor loop until Terminate, restores
// the prior SIGPIPE disposition, and returns. It blocks the calling
// goroutine for the daemon's lifetime, mirroring the teacher's signal loop
// in srv/srv.go Main but internalized here as the loop itself rather than a
// wrapper around os/signal.
func (s *Supervisor) Run() error {
	restoreSigpipe := ignoreSigpipe()
	defer restoreSigpipe()

	events := make([]unix.EpollEvent, 16)
	for {
		n, err := unix.EpollWait(s.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch {
			case fd == s.pipeR:
				if terminate := s.handleControlPipe(); terminate {
					s.teardown()
					return nil
				}
			default:
				if ln, ok := s.listeners[fd]; ok {
					s.acceptOne(ln)
				} else {
					s.handleConnReadable(fd)
				}
			}
		}
	}
}

func (s *Supervisor) handleControlPipe() (terminate bool) {
	var buf [1]byte
	for {
		n, err := unix.Read(s.pipeR, buf[:])
		if err != nil {
			if err == unix.EAGAIN {
				return false
			}
			if err == unix.EINTR {
				continue
			}
			return false
		}
		if n == 0 {
			return false
		}
		switch buf[0] {
		case sigDetach:
			s.broadcastDetach()
		case sigTerminate:
			return true
		}
	}
}

func (s *Supervisor) acceptOne(ln net.Listener) {
	raw, err := ln.Accept()
	if err != nil {
		return
	}
	fd, err := connFd(raw)
	if err != nil {
		s.log.Printf("accept: could not obtain fd: %v", err)
		raw.Close()
		return
	}
	sessionID := s.ch.NewSession()
	c := newConn(raw, sessionID, s.maxObjSz)
	s.mu.Lock()
	s.conns[fd] = c
	s.mu.Unlock()
	if err := s.epollAdd(fd); err != nil {
		s.log.Printf("epoll add: %v", err)
		s.dropConn(fd)
		return
	}
	metrics.ConnectionsAccepted.Inc()
	metrics.ConnectionsActive.Inc()
}

// handleConnReadable dispatches one readable connection. With no worker
// pool configured, it runs the request inline on the supervisor's
// goroutine, preserving the single-threaded-dispatch model of §5 exactly.
// With a pool configured, the same fd is always routed to the same worker
// (fd modulo pool size), preserving this connection's reply ordering while
// letting distinct connections run concurrently on different workers.
func (s *Supervisor) handleConnReadable(fd int) {
	s.mu.Lock()
	c, ok := s.conns[fd]
	s.mu.Unlock()
	if !ok {
		return
	}
	dispatch := func() {
		if keepOpen := s.ch.HandleRequest(c); !keepOpen {
			s.dropConn(fd)
		}
	}
	if s.workers != nil {
		s.workers.submit(fd, dispatch)
		return
	}
	dispatch()
}

func (s *Supervisor) dropConn(fd int) {
	s.epollDel(fd)
	s.mu.Lock()
	c, ok := s.conns[fd]
	delete(s.conns, fd)
	s.mu.Unlock()
	if ok {
		c.raw.Close()
		metrics.ConnectionsActive.Dec()
	}
}

// broadcastDetach implements §4.10: an unsolicited Detach frame to every
// currently accepted connection, sent non-blocking with send failures
// ignored so one stuck peer cannot hold up the rest.
func (s *Supervisor) broadcastDetach() {
	s.ch.cfg.Backend.SendDetachRequests()
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		sendDetach(c)
	}
	metrics.DetachBroadcasts.Inc()
}

// teardown closes every accepted connection, the listener, the control
// pipe, and the epoll instance, and clears the transaction registry — the
// Terminate exit steps of §4.9.
func (s *Supervisor) teardown() {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[int]*conn)
	s.mu.Unlock()
	for fd, c := range conns {
		s.epollDel(fd)
		c.raw.Close()
	}
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.closeFDs()
	s.ch.txns.clear()
	if s.workers != nil {
		s.workers.stop()
	}
}

// AskToDetach writes the detach signal byte to the control pipe. Safe to
// call from any goroutine.
func (s *Supervisor) AskToDetach() error {
	_, err := unix.Write(s.pipeW, []byte{sigDetach})
	return err
}

// Terminate writes the terminate signal byte to the control pipe. Safe to
// call from any goroutine; Run returns once it has processed the signal.
func (s *Supervisor) Terminate() error {
	_, err := unix.Write(s.pipeW, []byte{sigTerminate})
	return err
}

// fdOf extracts the underlying file descriptor from anything backed by a
// raw OS socket — *net.TCPListener, *net.UnixListener, *net.TCPConn, or
// *net.UnixConn, all of which implement syscall.Conn. The descriptor stays
// registered with Go's runtime netpoller too; the supervisor's epoll
// instance watching it alongside the netpoller is intentional.
func fdOf(sc syscall.Conn) (int, error) {
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := raw.Control(func(f uintptr) { fd = int(f) })
	return fd, ctrlErr
}

func listenerFd(ln net.Listener) (int, error) {
	sc, ok := ln.(syscall.Conn)
	if !ok {
		return 0, unix.EINVAL
	}
	return fdOf(sc)
}

func connFd(c net.Conn) (int, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return 0, unix.EINVAL
	}
	return fdOf(sc)
}
