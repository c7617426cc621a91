package transport_test

import (
	"context"
	"testing"
	"time"

	transport "github.com/meshgrid/transport"
)

func TestIntrospectionTopicIsValid(t *testing.T) {
	if err := transport.IntrospectionTopic.Validate(); err != nil {
		t.Fatalf("IntrospectionTopic failed validation: %v", err)
	}
}

func introspectQuery(t *testing.T, n *transport.Node, req transport.IntrospectRequest) transport.IntrospectResponse {
	t.Helper()
	reply, err := n.RequestSync(context.Background(), transport.IntrospectionTopic,
		req.TypeName(), transport.IntrospectResponse{}.TypeName(), req, 2*time.Second)
	if err != nil {
		t.Fatalf("RequestSync(%q): %v", req.Query, err)
	}
	raw, ok := reply.(transport.RawMessage)
	if !ok {
		t.Fatalf("reply is %T, want transport.RawMessage", reply)
	}
	var out transport.IntrospectResponse
	if err := out.UnmarshalBinary(raw.Data); err != nil {
		t.Fatalf("UnmarshalBinary(%q): %v", req.Query, err)
	}
	return out
}

func TestIntrospectTopicsAndServices(t *testing.T) {
	rt := newTestRuntime(t)
	n := rt.NewNode()
	defer n.Close()

	topic, _ := n.Topic("widgets", "feed")
	if err := n.Advertise(topic, "example.Widget"); err != nil {
		t.Fatalf("Advertise: %v", err)
	}
	n.Subscribe(topic, "example.Widget", func() transport.Message { return &widget{} }, func(transport.Message) {})

	svcTopic, _ := n.Topic("svc", "ping")
	_, err := n.AdvertiseService(svcTopic, "example.Ping", "example.Pong",
		func() transport.Message { return &pingReq{} },
		func(context.Context, transport.IncomingRequest) (transport.Message, error) {
			return pongResp{}, nil
		})
	if err != nil {
		t.Fatalf("AdvertiseService: %v", err)
	}

	topics := introspectQuery(t, n, transport.IntrospectRequest{Query: "topics"}).Topics
	found := false
	for _, got := range topics {
		if got == topic {
			found = true
		}
	}
	if !found {
		t.Errorf("introspected topic list %v did not include %q", topics, topic)
	}

	services := introspectQuery(t, n, transport.IntrospectRequest{Query: "services"}).Services
	found = false
	for _, got := range services {
		if got == svcTopic {
			found = true
		}
	}
	if !found {
		t.Errorf("introspected service list %v did not include %q", services, svcTopic)
	}
}

func TestIntrospectTopicInfoAndServiceInfo(t *testing.T) {
	rt := newTestRuntime(t)
	n := rt.NewNode()
	defer n.Close()

	topic, _ := n.Topic("widgets", "feed")
	if err := n.Advertise(topic, "example.Widget"); err != nil {
		t.Fatalf("Advertise: %v", err)
	}

	svcTopic, _ := n.Topic("svc", "ping")
	_, err := n.AdvertiseService(svcTopic, "example.Ping", "example.Pong",
		func() transport.Message { return &pingReq{} },
		func(context.Context, transport.IncomingRequest) (transport.Message, error) {
			return pongResp{}, nil
		})
	if err != nil {
		t.Fatalf("AdvertiseService: %v", err)
	}

	info := introspectQuery(t, n, transport.IntrospectRequest{Query: "topic_info", Topic: string(topic)}).TopicInfo
	if len(info) == 0 {
		t.Errorf("topic_info for %q returned no records", topic)
	}

	svcInfo := introspectQuery(t, n, transport.IntrospectRequest{Query: "service_info", Topic: string(svcTopic)}).ServiceInfo
	if len(svcInfo) == 0 {
		t.Errorf("service_info for %q returned no records", svcTopic)
	}
}

func TestIntrospectUnknownQueryFails(t *testing.T) {
	rt := newTestRuntime(t)
	n := rt.NewNode()
	defer n.Close()

	_, err := n.RequestSync(context.Background(), transport.IntrospectionTopic,
		transport.IntrospectRequest{}.TypeName(), transport.IntrospectResponse{}.TypeName(),
		transport.IntrospectRequest{Query: "bogus"}, 2*time.Second)
	if err == nil {
		t.Fatal("RequestSync with an unknown introspection query succeeded")
	}
}
