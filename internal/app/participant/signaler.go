package participant

import (
	"encoding/json"

	"github.com/dkeye/Mirror/internal/negotiation"
	"github.com/dkeye/Mirror/internal/protocol"
)

// peerSignaler addresses one engine's messages. The host names the target
// viewer; a viewer leaves PeerID empty and the relay routes to its host.
type peerSignaler struct {
	conn    Transport
	session string
	target  string
}

func (s peerSignaler) send(t protocol.Event, payload []byte) error {
	return s.conn.Send(protocol.Envelope{
		Type:      t,
		SessionID: s.session,
		PeerID:    s.target,
		Payload:   json.RawMessage(payload),
	})
}

func (s peerSignaler) SendOffer(d negotiation.Description) error {
	return s.send(protocol.EventOffer, d)
}

func (s peerSignaler) SendAnswer(d negotiation.Description) error {
	return s.send(protocol.EventAnswer, d)
}

func (s peerSignaler) SendCandidate(c negotiation.Candidate) error {
	return s.send(protocol.EventICECandidate, c)
}
