package transport_test

import (
	"errors"
	"testing"

	transport "github.com/meshgrid/transport"
)

func TestTopicValidate(t *testing.T) {
	tests := []struct {
		name    string
		topic   transport.Topic
		wantErr bool
	}{
		{"well formed", "@@ns/leaf", false},
		{"well formed with partition", "@part@ns/leaf", false},
		{"missing leading at", "part@ns/leaf", true},
		{"missing namespace separator", "@part", true},
		{"missing leaf separator", "@part@ns", true},
		{"empty namespace", "@part@/leaf", true},
		{"empty leaf", "@part@ns/", true},
		{"illegal char in leaf", "@part@ns/le@f", true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.topic.Validate()
			if test.wantErr && err == nil {
				t.Fatalf("Validate() = nil, want an error")
			}
			if test.wantErr && !errors.Is(err, transport.ErrInvalidTopic) {
				t.Errorf("Validate() error = %v, want wrapping ErrInvalidTopic", err)
			}
			if !test.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestTopicPartitionAndStripPartition(t *testing.T) {
	topic := transport.Topic("@myPart@ns/leaf")
	if got := topic.Partition(); got != "myPart" {
		t.Errorf("Partition() = %q, want %q", got, "myPart")
	}
	if got := topic.StripPartition(); got != "@ns/leaf" {
		t.Errorf("StripPartition() = %q, want %q", got, "@ns/leaf")
	}
}

func TestTopicPartitionEmptyIsValid(t *testing.T) {
	topic := transport.Topic("@@ns/leaf")
	if err := topic.Validate(); err != nil {
		t.Errorf("empty-partition topic failed validation: %v", err)
	}
	if got := topic.Partition(); got != "" {
		t.Errorf("Partition() = %q, want empty string", got)
	}
}

func TestNodeTopicCanonicalizesAndRoundtrips(t *testing.T) {
	rt := newTestRuntime(t)
	n := rt.NewNode()
	defer n.Close()

	topic, err := n.Topic("mything", "leaf")
	if err != nil {
		t.Fatalf("Topic: %v", err)
	}
	if err := topic.Validate(); err != nil {
		t.Errorf("canonicalized topic failed validation: %v", err)
	}

	// A leaf that is already fully qualified (e.g. round-tripped from
	// TopicList) must be accepted unchanged.
	again, err := n.Topic("ignored-namespace", string(topic))
	if err != nil {
		t.Fatalf("Topic with fully-qualified leaf: %v", err)
	}
	if again != topic {
		t.Errorf("re-canonicalizing a fully-qualified leaf changed it: got %q, want %q", again, topic)
	}
}

func TestNodeTopicRejectsEmptyLeaf(t *testing.T) {
	rt := newTestRuntime(t)
	n := rt.NewNode()
	defer n.Close()

	if _, err := n.Topic("ns", ""); !errors.Is(err, transport.ErrInvalidTopic) {
		t.Errorf("Topic with empty leaf = %v, want ErrInvalidTopic", err)
	}
}
