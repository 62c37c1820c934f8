package rpc

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/rpc"
	"sync"

	jsonrpc "github.com/gorilla/rpc/json"
	"github.com/ugorji/go/codec"
)

type ClientProxy struct {
	serverAddr string
	transport  string
	useTLS     bool
	persistent bool

	codecHandle codec.Handle
	http        *http.Client

	// Cached
	cachedCodec  rpc.ClientCodec
	cachedClient *rpc.Client

	// Recording requests
	mu           sync.Mutex
	shouldRecord bool
	RecordedReqs []RecordedRequest
}

type RecordedRequest struct {
	Method   string
	ReqBody  interface{}
	Error    error
	RespBody interface{}
}

// NewClientProxy connects to a server created by NewServer with the same
// transport. Server certificates are not verified; the servers this talks
// to run with self-signed certificates.
func NewClientProxy(serverAddr string, transport string, useTLS bool, usePersistent bool) (*ClientProxy, error) {
	proxy := ClientProxy{
		serverAddr:  serverAddr,
		transport:   transport,
		useTLS:      useTLS,
		codecHandle: CodecHandle(),
	}
	switch transport {
	case HTTP:
		proxy.http = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
				DisableKeepAlives: !usePersistent,
			},
		}
		proxy.persistent = usePersistent
	case TCP:
		if usePersistent {
			codec, err := proxy.codec()
			if err != nil {
				return nil, err
			}
			proxy.cachedCodec = codec
			proxy.cachedClient = rpc.NewClientWithCodec(codec)
			proxy.persistent = true
		}
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
	return &proxy, nil
}

func (p *ClientProxy) codec() (rpc.ClientCodec, error) {
	if p.persistent {
		return p.cachedCodec, nil
	}
	return newTCPCodec(p.codecHandle, p.serverAddr, p.useTLS)
}

// Call invokes serviceMethod. Errors returned by the remote method come back
// carrying only their message.
func (p *ClientProxy) Call(serviceMethod string, args interface{}, reply interface{}) error {
	var err error
	if p.transport == HTTP {
		err = p.callHTTP(serviceMethod, args, reply)
	} else {
		err = p.callTCP(serviceMethod, args, reply)
	}
	p.mu.Lock()
	if p.shouldRecord {
		p.RecordedReqs = append(p.RecordedReqs, RecordedRequest{serviceMethod, args, err, reply})
	}
	p.mu.Unlock()
	return err
}

func (p *ClientProxy) callTCP(serviceMethod string, args interface{}, reply interface{}) error {
	client, err := p.rpcClient()
	if err != nil {
		return err
	}
	defer p.releaseClient(client)
	return client.Call(serviceMethod, args, reply)
}

func (p *ClientProxy) callHTTP(serviceMethod string, args interface{}, reply interface{}) error {
	body, err := jsonrpc.EncodeClientRequest(serviceMethod, args)
	if err != nil {
		return fmt.Errorf("encode request: %v", err)
	}
	scheme := "http://"
	if p.useTLS {
		scheme = "https://"
	}
	httpResp, err := p.http.Post(scheme+p.serverAddr+Path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed HTTP POST: %v", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("failed HTTP POST: %d %s", httpResp.StatusCode, msg)
	}
	return jsonrpc.DecodeClientResponse(httpResp.Body, reply)
}

func (p *ClientProxy) rpcClient() (*rpc.Client, error) {
	if p.persistent {
		return p.cachedClient, nil
	}

	codec, err := p.codec()
	if err != nil {
		return nil, err
	}
	return rpc.NewClientWithCodec(codec), nil
}

func (p *ClientProxy) releaseClient(client *rpc.Client) error {
	if !p.persistent {
		return client.Close()
	}
	return nil
}

func (p *ClientProxy) Close() {
	if p.http != nil {
		p.http.CloseIdleConnections()
		return
	}
	if p.persistent {
		p.cachedClient.Close()
	}
}

func (p *ClientProxy) StartRecording() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shouldRecord = true
	p.RecordedReqs = make([]RecordedRequest, 0)
}

func (p *ClientProxy) StopRecording() []RecordedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shouldRecord = false
	return p.RecordedReqs
}

func newTCPCodec(codecHandle codec.Handle, serverAddr string, useTLS bool) (rpc.ClientCodec, error) {
	var conn net.Conn
	var err error
	if useTLS {
		conn, err = tls.Dial("tcp", serverAddr, &tls.Config{InsecureSkipVerify: true})
	} else {
		conn, err = net.Dial("tcp", serverAddr)
	}
	if err != nil {
		return nil, err
	}
	return codec.GoRpc.ClientCodec(conn, codecHandle), nil
}
