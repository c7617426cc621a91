package wire

import (
	"fmt"

	"github.com/creachadair/mds/value"
)

// EventCode is the decimal-ASCII-on-the-wire event tag carried by a Control
// frame list.
type EventCode byte

const (
	EventNewConnection EventCode = '0'
	EventEndConnection EventCode = '1'
)

// Publish is the 4-frame payload for a published message:
// topic | sender-data-endpoint | payload | msg-type-name.
type Publish struct {
	Topic      string
	DataEndpoint string
	Payload    []byte
	MsgType    string
}

// Encode renders p as an Envelope body.
func (p *Publish) Encode() []byte {
	var b Builder
	b.FrameString(p.Topic)
	b.FrameString(p.DataEndpoint)
	b.Frame(p.Payload)
	b.FrameString(p.MsgType)
	return b.Bytes()
}

// Decode parses an Envelope body into p. Per the codec's partial-delivery
// rule, any missing frame aborts decoding and the caller must discard the
// whole message rather than substitute a default.
func (p *Publish) Decode(body []byte) error {
	s := NewScanner(body)
	var err error
	if p.Topic, err = s.FrameString(); err != nil {
		return fmt.Errorf("publish: topic: %w", err)
	}
	if p.DataEndpoint, err = s.FrameString(); err != nil {
		return fmt.Errorf("publish: data-endpoint: %w", err)
	}
	if p.Payload, err = s.Frame(); err != nil {
		return fmt.Errorf("publish: payload: %w", err)
	}
	if p.MsgType, err = s.FrameString(); err != nil {
		return fmt.Errorf("publish: msg-type: %w", err)
	}
	return nil
}

// Control is the 5-frame payload for a subscriber registration notice:
// topic | process-id | node-id | msg-type-name | event-code.
type Control struct {
	Topic     string
	ProcessID string
	NodeID    string
	MsgType   string
	Event     EventCode
}

// Encode renders c as an Envelope body.
func (c *Control) Encode() []byte {
	var b Builder
	b.FrameString(c.Topic)
	b.FrameString(c.ProcessID)
	b.FrameString(c.NodeID)
	b.FrameString(c.MsgType)
	b.FrameString(string(c.Event))
	return b.Bytes()
}

// Decode parses an Envelope body into c.
func (c *Control) Decode(body []byte) error {
	s := NewScanner(body)
	var err error
	if c.Topic, err = s.FrameString(); err != nil {
		return fmt.Errorf("control: topic: %w", err)
	}
	if c.ProcessID, err = s.FrameString(); err != nil {
		return fmt.Errorf("control: process-id: %w", err)
	}
	if c.NodeID, err = s.FrameString(); err != nil {
		return fmt.Errorf("control: node-id: %w", err)
	}
	if c.MsgType, err = s.FrameString(); err != nil {
		return fmt.Errorf("control: msg-type: %w", err)
	}
	ev, err := s.FrameString()
	if err != nil {
		return fmt.Errorf("control: event-code: %w", err)
	}
	if len(ev) != 1 {
		return fmt.Errorf("control: invalid event-code %q", ev)
	}
	c.Event = EventCode(ev[0])
	return nil
}

// Request is the 8-frame payload for a service request (no addressing
// frame precedes it: it travels on the requester's own connection to the
// responder):
// topic | requester-data-endpoint | responder-socket-id | requester-node-id |
// request-id | payload | req-type | rep-type.
type Request struct {
	Topic               string
	RequesterEndpoint   string
	ResponderSocketID   string
	RequesterNodeID     string
	RequestID           string
	Payload             []byte
	ReqType             string
	RepType             string
}

// Encode renders r as an Envelope body.
func (r *Request) Encode() []byte {
	var b Builder
	b.FrameString(r.Topic)
	b.FrameString(r.RequesterEndpoint)
	b.FrameString(r.ResponderSocketID)
	b.FrameString(r.RequesterNodeID)
	b.FrameString(r.RequestID)
	b.Frame(r.Payload)
	b.FrameString(r.ReqType)
	b.FrameString(r.RepType)
	return b.Bytes()
}

// Decode parses an Envelope body into r.
func (r *Request) Decode(body []byte) error {
	s := NewScanner(body)
	var err error
	if r.Topic, err = s.FrameString(); err != nil {
		return fmt.Errorf("request: topic: %w", err)
	}
	if r.RequesterEndpoint, err = s.FrameString(); err != nil {
		return fmt.Errorf("request: requester-endpoint: %w", err)
	}
	if r.ResponderSocketID, err = s.FrameString(); err != nil {
		return fmt.Errorf("request: responder-socket-id: %w", err)
	}
	if r.RequesterNodeID, err = s.FrameString(); err != nil {
		return fmt.Errorf("request: requester-node-id: %w", err)
	}
	if r.RequestID, err = s.FrameString(); err != nil {
		return fmt.Errorf("request: request-id: %w", err)
	}
	if r.Payload, err = s.Frame(); err != nil {
		return fmt.Errorf("request: payload: %w", err)
	}
	if r.ReqType, err = s.FrameString(); err != nil {
		return fmt.Errorf("request: req-type: %w", err)
	}
	if r.RepType, err = s.FrameString(); err != nil {
		return fmt.Errorf("request: rep-type: %w", err)
	}
	return nil
}

// Response is the 6-frame payload for a service response (no addressing
// frame precedes it: it travels back on the connection the request came in
// on):
// destination-socket-id | topic | requester-node-id | request-id | payload |
// result-flag.
type Response struct {
	DestinationSocketID string
	Topic               string
	RequesterNodeID     string
	RequestID           string
	Payload             []byte
	Result              bool
}

// Encode renders r as an Envelope body.
func (r *Response) Encode() []byte {
	var b Builder
	b.FrameString(r.DestinationSocketID)
	b.FrameString(r.Topic)
	b.FrameString(r.RequesterNodeID)
	b.FrameString(r.RequestID)
	b.Frame(r.Payload)
	b.FrameString(value.Cond(r.Result, "1", "0"))
	return b.Bytes()
}

// Decode parses an Envelope body into r.
func (r *Response) Decode(body []byte) error {
	s := NewScanner(body)
	var err error
	if r.DestinationSocketID, err = s.FrameString(); err != nil {
		return fmt.Errorf("response: destination-socket-id: %w", err)
	}
	if r.Topic, err = s.FrameString(); err != nil {
		return fmt.Errorf("response: topic: %w", err)
	}
	if r.RequesterNodeID, err = s.FrameString(); err != nil {
		return fmt.Errorf("response: requester-node-id: %w", err)
	}
	if r.RequestID, err = s.FrameString(); err != nil {
		return fmt.Errorf("response: request-id: %w", err)
	}
	if r.Payload, err = s.Frame(); err != nil {
		return fmt.Errorf("response: payload: %w", err)
	}
	flag, err := s.FrameString()
	if err != nil {
		return fmt.Errorf("response: result-flag: %w", err)
	}
	if flag != "0" && flag != "1" {
		return fmt.Errorf("response: invalid result-flag %q", flag)
	}
	r.Result = flag == "1"
	return nil
}

// Credential is the 2-frame payload for the optional PLAIN-equivalent
// handshake a subscriber sends as the first message on a new publisher
// connection when IGNITION_TRANSPORT_USERNAME/_PASSWORD are configured.
type Credential struct {
	Username string
	Password string
}

// Encode renders c as an Envelope body.
func (c *Credential) Encode() []byte {
	var b Builder
	b.FrameString(c.Username)
	b.FrameString(c.Password)
	return b.Bytes()
}

// Decode parses an Envelope body into c.
func (c *Credential) Decode(body []byte) error {
	s := NewScanner(body)
	var err error
	if c.Username, err = s.FrameString(); err != nil {
		return fmt.Errorf("credential: username: %w", err)
	}
	if c.Password, err = s.FrameString(); err != nil {
		return fmt.Errorf("credential: password: %w", err)
	}
	return nil
}
