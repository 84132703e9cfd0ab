package transport

import (
	"net"
	"sync"

	"github.com/nvmftcpd/nvmftcpd/internal/log"
)

// Port owns one listening TCP socket and the accept loop that turns each
// inbound connection into a qpairConn assigned to a poll group, §4.7.
// Structured like pkg/adapter.BaseAdapter.ServeWithFactory: set
// TCP_NODELAY on every accepted socket, track it for shutdown, and hand it
// off to a per-connection goroutine that does no further accept-loop work.
type Port struct {
	tr       *Transport
	listener net.Listener
	addr     string

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	closing  chan struct{}
	closeOnce sync.Once
	wg       sync.WaitGroup
}

// Listen opens addr and starts accepting connections onto tr's poll groups.
func (tr *Transport) Listen(addr string) (*Port, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	p := &Port{
		tr:       tr,
		listener: ln,
		addr:     addr,
		conns:    make(map[net.Conn]struct{}),
		closing:  make(chan struct{}),
	}
	tr.mu.Lock()
	tr.ports = append(tr.ports, p)
	tr.mu.Unlock()

	p.wg.Add(1)
	go p.acceptLoop()
	return p, nil
}

func (p *Port) Addr() string { return p.addr }

// ConnCount reports the number of currently accepted connections, for
// introspection callers (nvmfctl qpair list).
func (p *Port) ConnCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *Port) acceptLoop() {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-p.closing:
				return
			default:
				log.Warn("accept error", "addr", p.addr, "error", err)
				return
			}
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			if err := tc.SetNoDelay(true); err != nil {
				log.Debug("failed to set TCP_NODELAY", "error", err)
			}
		}

		p.mu.Lock()
		p.conns[conn] = struct{}{}
		p.mu.Unlock()

		p.wg.Add(1)
		go p.handleConn(conn)
	}
}

// handleConn binds a freshly accepted socket to a qpairConn on the poll
// group chosen by the configured scheduling policy. The qpair starts
// provisionally tagged as an admin qpair on qid 0; handshake.go corrects
// QID/IsAdmin once the Fabrics Connect command on it reveals its real
// role, since that isn't known until after IC_REQ/IC_RESP.
func (p *Port) handleConn(conn net.Conn) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.conns, conn)
		p.mu.Unlock()
	}()

	pg := p.tr.pickPollGroup(conn.RemoteAddr().String())
	resourceCount := int(p.tr.opts.MaxAqDepth)
	if q := int(p.tr.opts.MaxQueueDepth); q > resourceCount {
		resourceCount = q
	}
	qc := newQpairConn(conn, pg, 0, true, resourceCount, int(p.tr.opts.InCapsuleDataSize))
	pg.Post(func() { pg.addQpair(qc) })
	qc.startReader()

	if p.tr.metrics != nil {
		p.tr.metrics.RecordQpairAccepted("", "unbound")
	}
}

// Close stops accepting new connections and closes every connection this
// port has accepted so far.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closing)
		err = p.listener.Close()
		p.mu.Lock()
		for c := range p.conns {
			_ = c.Close()
		}
		p.mu.Unlock()
	})
	p.wg.Wait()
	return err
}
