package rpc

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/rpc"

	gorilla "github.com/gorilla/rpc"
	jsonrpc "github.com/gorilla/rpc/json"
	"github.com/ugorji/go/codec"
)

// Transports understood by NewServer and NewClientProxy.
const (
	TCP  = "tcp"
	HTTP = "http"
)

// Path is the HTTP endpoint of the JSON-RPC transport.
const Path = "/rpc"

type Server interface {
	RegisterName(name string, rcvr interface{}) error
	Serve() error
	Close() error
	Addr() net.Addr
}

// NewServer listens on port. Receivers registered on either transport use
// net/rpc method signatures. When certFile is set, connections are wrapped
// in TLS.
func NewServer(port int, transport string, certFile, keyFile string) (Server, error) {
	if transport != TCP && transport != HTTP {
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("Failed to listen tcp: %v", err)
	}
	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			ln.Close()
			return nil, fmt.Errorf("load certificate: %v", err)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
	}

	if transport == TCP {
		return &tcpRpcServer{ln, rpc.NewServer(), CodecHandle()}, nil
	}
	rpcServer := gorilla.NewServer()
	rpcServer.RegisterCodec(jsonrpc.NewCodec(), "application/json")
	mux := http.NewServeMux()
	mux.Handle(Path, rpcServer)
	return &httpRpcServer{
		Listener:   ln,
		rpc:        rpcServer,
		httpServer: &http.Server{Handler: mux},
	}, nil
}

type httpRpcServer struct {
	net.Listener
	rpc        *gorilla.Server
	httpServer *http.Server
}

func (s *httpRpcServer) RegisterName(name string, rcvr interface{}) error {
	return s.rpc.RegisterTCPService(rcvr, name)
}

func (s *httpRpcServer) Serve() error {
	log.Printf("Serving JSON-RPC server over HTTP on %s\n", s.Addr().String())
	err := s.httpServer.Serve(s.Listener)
	if err == http.ErrServerClosed {
		log.Println("Server shutdown")
		return nil
	}
	return err
}

func (s *httpRpcServer) Close() error {
	err := s.httpServer.Close()
	s.Listener.Close()
	return err
}

type tcpRpcServer struct {
	net.Listener
	*rpc.Server

	codecHandle codec.Handle
}

func (s *tcpRpcServer) Serve() error {
	log.Printf("Serving RPC server over TCP on %s\n", s.Addr().String())
	for {
		conn, err := s.Listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			log.Println("Server shutdown")
			return nil
		}
		if err != nil {
			return fmt.Errorf("TCP Accept failed: %+v", err)
		}
		go s.Server.ServeCodec(codec.GoRpc.ServerCodec(conn, s.codecHandle))
	}
}
