package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hugoboss23-5/swarm/consensus"
	"github.com/hugoboss23-5/swarm/envelope"
	"github.com/hugoboss23-5/swarm/transport"
)

// busVoter proxies consensus acknowledgements over the transport: the
// proposal travels as a state.propose request to the voter's address,
// and the StateAck response decides the vote.
type busVoter struct {
	addr string
	from string
	bus  transport.Bus
}

// NewBusVoter wraps a transport address as a consensus voter. from is
// the sender address stamped on proposal frames.
func NewBusVoter(addr, from string, bus transport.Bus) consensus.Voter {
	return &busVoter{addr: addr, from: from, bus: bus}
}

func (v *busVoter) VoterID() string { return v.addr }

func (v *busVoter) Ack(ctx context.Context, t *consensus.Transition) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	req, err := envelope.NewRequest(v.from, envelope.MethodStatePropose, envelope.StatePropose{
		ProposalID: t.ID.String(),
		Version:    t.Version,
		Proposer:   t.Proposer,
		Token:      t.Token,
		Transition: raw,
	})
	if err != nil {
		return err
	}
	resp, err := v.bus.Request(ctx, v.addr, req)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("voter %s: %s", v.addr, resp.Error.Message)
	}
	var ack envelope.StateAck
	if err := resp.DecodeBody(&ack); err != nil {
		return err
	}
	if !ack.Acked {
		return fmt.Errorf("voter %s rejected version %d: %s", v.addr, t.Version, ack.Reason)
	}
	return nil
}

// AddVoter registers a consensus voter reachable at the given transport
// address; worker agents acknowledge proposals at their own address.
func (c *Coordinator) AddVoter(addr string) {
	if c.quorum == nil || c.bus == nil {
		return
	}
	c.quorum.AddVoter(NewBusVoter(addr, c.addr, c.bus))
}

// RemoveVoter drops a voter from quorum accounting.
func (c *Coordinator) RemoveVoter(addr string) {
	if c.quorum == nil {
		return
	}
	c.quorum.RemoveVoter(addr)
}
