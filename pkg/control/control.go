// Package control exposes a running transport's live state over a local
// RPC socket so nvmfctl can introspect a daemon without an HTTP surface:
// a separate CLI process inspecting a running server, carried over
// net/rpc on a Unix socket rather than net/http, since this target has no
// lightweight local-IPC library dependency otherwise available to it and
// no HTTP surface of its own to reuse.
package control

import (
	"fmt"
	"net"
	"net/rpc"
	"os"
	"time"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/transport"
)

// SubsystemInfo is the wire-safe projection of a subsystem.Subsystem.
type SubsystemInfo struct {
	NQN          string
	Serial       string
	Model        string
	Subtype      string
	State        string
	ANAReporting bool
	Namespaces   []NamespaceInfo
}

// NamespaceInfo is the wire-safe projection of a subsystem.Namespace.
type NamespaceInfo struct {
	NSID       uint32
	BlockCount uint64
	BlockSize  uint32
}

// ControllerInfo is the wire-safe projection of a ctrlr.Controller.
type ControllerInfo struct {
	CNTLID           uint16
	SubNQN           string
	HostNQN          string
	Ready            bool
	ActiveQpairs     int
	KeepAliveTimeout time.Duration
}

// PortInfo is the wire-safe projection of a transport.Port.
type PortInfo struct {
	Address     string
	ActiveConns int
}

// Service implements the RPC methods nvmfctl calls into. Every method
// takes an unused args struct (net/rpc requires two arguments) and fills
// in reply, returning a non-nil error only for a genuine RPC-layer fault;
// there is nothing in these read-only calls that fails on valid input.
type Service struct {
	tr *transport.Transport
}

// NewService wraps tr for RPC registration.
func NewService(tr *transport.Transport) *Service {
	return &Service{tr: tr}
}

// Args is the empty argument type for every no-input method below.
type Args struct{}

func (s *Service) ListSubsystems(_ Args, reply *[]SubsystemInfo) error {
	var out []SubsystemInfo
	for _, sub := range s.tr.Subsystems() {
		info := SubsystemInfo{
			NQN:          sub.NQN(),
			Serial:       sub.SerialNumber(),
			Model:        sub.ModelNumber(),
			ANAReporting: sub.ANAReporting(),
			State:        sub.State().String(),
		}
		if sub.Subtype() == subsystem.SubsystemTypeDiscovery {
			info.Subtype = "discovery"
		} else {
			info.Subtype = "nvm"
		}
		sub.IterateNamespaces(func(ns subsystem.Namespace) bool {
			dev := ns.BlockDevice()
			info.Namespaces = append(info.Namespaces, NamespaceInfo{
				NSID:       ns.NSID(),
				BlockSize:  dev.BlockSize(),
				BlockCount: dev.BlockCount(),
			})
			return true
		})
		out = append(out, info)
	}
	*reply = out
	return nil
}

func (s *Service) ListControllers(_ Args, reply *[]ControllerInfo) error {
	var out []ControllerInfo
	for _, sub := range s.tr.Subsystems() {
		sub.IterateControllers(func(cntlid uint16, c *ctrlr.Controller) bool {
			out = append(out, ControllerInfo{
				CNTLID:           cntlid,
				SubNQN:           c.SubNQN,
				HostNQN:          c.HostNQN,
				Ready:            c.Registers.CSTSReady(),
				ActiveQpairs:     c.ActiveQpairCount(),
				KeepAliveTimeout: c.KATO(),
			})
			return true
		})
	}
	*reply = out
	return nil
}

func (s *Service) ListPorts(_ Args, reply *[]PortInfo) error {
	var out []PortInfo
	for _, p := range s.tr.Ports() {
		out = append(out, PortInfo{Address: p.Addr(), ActiveConns: p.ConnCount()})
	}
	*reply = out
	return nil
}

func (s *Service) Healthcheck(_ Args, reply *string) error {
	*reply = "ok"
	return nil
}

// Server owns the Unix socket listener backing a Service.
type Server struct {
	ln   net.Listener
	path string
}

// Serve starts accepting RPC connections on socketPath, replacing any
// stale socket file left behind by a prior unclean shutdown.
func Serve(socketPath string, tr *transport.Transport) (*Server, error) {
	_ = os.Remove(socketPath)

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("control: listen %s: %w", socketPath, err)
	}

	server := rpc.NewServer()
	if err := server.Register(NewService(tr)); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("control: register service: %w", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go server.ServeConn(conn)
		}
	}()

	return &Server{ln: ln, path: socketPath}, nil
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	err := s.ln.Close()
	_ = os.Remove(s.path)
	return err
}

// Dial connects to a running daemon's control socket.
func Dial(socketPath string) (*rpc.Client, error) {
	client, err := rpc.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w (is nvmftcpd running?)", socketPath, err)
	}
	return client, nil
}
