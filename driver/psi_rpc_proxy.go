package driver

import (
	"time"

	"psi"
	"psi/rpc"
	"psi/sender"
)

// ServiceName is the name drivers are registered under.
const ServiceName = "PSIServerDriver"

// RpcProxy is a PSIServerDriver backed by a remote server. Errors coming
// back from the server keep their psi error kind.
type RpcProxy struct {
	*rpc.ClientProxy
}

func NewRpcProxy(serverAddr string, transport string, useTLS bool, usePersistent bool) (*RpcProxy, error) {
	proxy, err := rpc.NewClientProxy(serverAddr, transport, useTLS, usePersistent)
	if err != nil {
		return nil, err
	}
	return &RpcProxy{proxy}, nil
}

func (p *RpcProxy) call(method string, args interface{}, reply interface{}) error {
	if err := p.Call(ServiceName+"."+method, args, reply); err != nil {
		return psi.FromMessage(err.Error())
	}
	return nil
}

func orNone(none *int) *int {
	if none == nil {
		return new(int)
	}
	return none
}

func (p *RpcProxy) Configure(config *TestConfig, none *int) error {
	return p.call("Configure", config, orNone(none))
}

func (p *RpcProxy) Parameters(none *int, out *[]byte) error {
	return p.call("Parameters", orNone(none), out)
}

func (p *RpcProxy) OPRF(req *Message, resp *Message) error {
	return p.call("OPRF", req, resp)
}

func (p *RpcProxy) Query(req *Message, resp *QueryResult) error {
	return p.call("Query", req, resp)
}

func (p *RpcProxy) NumItems(none *int, out *int) error {
	return p.call("NumItems", orNone(none), out)
}

func (p *RpcProxy) GetItem(idx *int, out *PresetItem) error {
	return p.call("GetItem", idx, out)
}

func (p *RpcProxy) Stats(none *int, out *sender.Stats) error {
	return p.call("Stats", orNone(none), out)
}

func (p *RpcProxy) ResetMetrics(none *int, none2 *int) error {
	return p.call("ResetMetrics", orNone(none), orNone(none2))
}

func (p *RpcProxy) GetOPRFTimer(none *int, out *time.Duration) error {
	return p.call("GetOPRFTimer", orNone(none), out)
}

func (p *RpcProxy) GetQueryTimer(none *int, out *time.Duration) error {
	return p.call("GetQueryTimer", orNone(none), out)
}

func (p *RpcProxy) GetOPRFBytes(none *int, out *int) error {
	return p.call("GetOPRFBytes", orNone(none), out)
}

func (p *RpcProxy) GetQueryBytes(none *int, out *int) error {
	return p.call("GetQueryBytes", orNone(none), out)
}
