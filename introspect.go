package transport

import (
	"context"
	"encoding/json"
	"fmt"
)

// IntrospectionTopic is the well-known service topic the introspection
// loopback replier advertises on. It lives in the root partition so it is
// reachable regardless of the caller's configured partition.
const IntrospectionTopic Topic = "@@meshgrid.introspect/query"

// introspectRequestType and introspectResponseType are the type names
// carried in the request/response envelopes, the same demultiplexing
// mechanism any other service uses.
const (
	introspectRequestType  = "meshgrid.transport.IntrospectRequest"
	introspectResponseType = "meshgrid.transport.IntrospectResponse"
)

// IntrospectRequest asks the introspection service for one of the four
// queries TopicList/ServiceList/TopicInfo/ServiceInfo expose locally.
type IntrospectRequest struct {
	Query string `json:"query"` // "topics", "services", "topic_info", "service_info"
	Topic string `json:"topic,omitempty"`
}

var (
	_ Message = IntrospectRequest{}
)

// TypeName implements Message.
func (IntrospectRequest) TypeName() string { return introspectRequestType }

// MarshalBinary implements encoding.BinaryMarshaler via JSON, matching the
// introspection service's own wire convention (it has no generated schema
// to marshal against, unlike user-defined Message types).
func (r IntrospectRequest) MarshalBinary() ([]byte, error) { return json.Marshal(r) }

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *IntrospectRequest) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, r) }

// IntrospectResponse carries the result of one introspection query. Only
// the field matching the request's Query is populated.
type IntrospectResponse struct {
	Topics   []Topic                  `json:"topics,omitempty"`
	Services []Topic                  `json:"services,omitempty"`
	TopicInfo []PublisherRecord       `json:"topic_info,omitempty"`
	ServiceInfo []ServicePublisherRecord `json:"service_info,omitempty"`
}

var _ Message = IntrospectResponse{}

// TypeName implements Message.
func (IntrospectResponse) TypeName() string { return introspectResponseType }

// MarshalBinary implements encoding.BinaryMarshaler.
func (r IntrospectResponse) MarshalBinary() ([]byte, error) { return json.Marshal(r) }

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *IntrospectResponse) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, r) }

// startIntrospection advertises the built-in introspection replier on a
// dedicated node owned by the runtime itself, so TopicList/ServiceList/
// TopicInfo/ServiceInfo are answerable over the wire by any peer — not just
// readable in-process — the same way cmd/meshctl reaches them.
func (rt *Runtime) startIntrospection() error {
	n := rt.NewNode()
	rt.mu.Lock()
	rt.introspectNode = n
	rt.mu.Unlock()
	_, err := n.AdvertiseService(IntrospectionTopic, introspectRequestType, introspectResponseType,
		func() Message { return &IntrospectRequest{} }, rt.handleIntrospectRequest)
	return err
}

// handleIntrospectRequest is the introspection replier's RequestHandler: it
// answers purely from in-memory state, the same data TopicList/ServiceList/
// TopicInfo/ServiceInfo already expose to a local caller.
func (rt *Runtime) handleIntrospectRequest(_ context.Context, req IncomingRequest) (Message, error) {
	var in IntrospectRequest
	if err := unmarshalInto(&in, req.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}

	rt.mu.Lock()
	n := rt.introspectNode
	rt.mu.Unlock()
	if n == nil {
		return nil, ErrClosed
	}

	switch in.Query {
	case "topics":
		return IntrospectResponse{Topics: n.TopicList()}, nil
	case "services":
		return IntrospectResponse{Services: n.ServiceList()}, nil
	case "topic_info":
		return IntrospectResponse{TopicInfo: n.TopicInfo(Topic(in.Topic))}, nil
	case "service_info":
		return IntrospectResponse{ServiceInfo: n.ServiceInfo(Topic(in.Topic))}, nil
	default:
		return nil, fmt.Errorf("unknown introspection query %q", in.Query)
	}
}
