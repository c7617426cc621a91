package transport

import "context"

// PublisherRecord describes one message publisher, local or remote, as
// carried by the pub/sub discovery beacon.
type PublisherRecord struct {
	Topic           Topic
	DataEndpoint    string // tcp://host:port of the publisher socket
	ControlEndpoint string // tcp://host:port of the publisher's control socket
	ProcessID       ProcessID
	NodeID          NodeID
	MsgType         string
	Options         SubscribeOptions
}

// ServicePublisherRecord describes one service replier, local or remote, as
// carried by the service discovery beacon.
type ServicePublisherRecord struct {
	Topic           Topic
	RequestEndpoint string // tcp://host:port of the responder's replier socket
	SocketID        SocketID
	ProcessID       ProcessID
	NodeID          NodeID
	ReqType         string
	RepType         string
	Options         AdvertiseOptions
}

// SubscribeOptions carries per-subscription settings; currently empty, but
// named so discovery records and handler registrations can carry
// per-advertisement scope options without changing their signatures later.
type SubscribeOptions struct{}

// AdvertiseOptions carries per-advertisement settings; currently empty for
// the same reason as SubscribeOptions.
type AdvertiseOptions struct{}

// Discovery is the thin contract this core requires of the external
// discovery beacon named in the spec: advertise, unadvertise, issue a
// one-shot query, and deliver connection/disconnection callbacks. The
// internal timing and on-the-wire packet format of whatever beacon
// implements this are explicitly out of scope for the core — this interface
// is the entire contract.
//
// R is instantiated as PublisherRecord for the message beacon and
// ServicePublisherRecord for the service beacon; NewRuntime is passed one
// independent instance of each.
type Discovery[R any] interface {
	// Advertise announces rec to the network and keeps re-announcing it on
	// the beacon's own heartbeat until Unadvertise is called.
	Advertise(rec R) error

	// Unadvertise stops announcing topic.
	Unadvertise(topic Topic) error

	// Discover issues a one-shot query for topic. Results, if any, surface
	// through the OnConnection callback as they are learned; Discover does
	// not block waiting for them.
	Discover(topic Topic) error

	// Publishers returns a snapshot of every record currently known for
	// topic, grouped by process.
	Publishers(topic Topic) map[ProcessID][]R

	// Start begins the beacon's background heartbeat and listener. It must
	// be called before Advertise/Discover do anything useful.
	Start(ctx context.Context) error

	// Stop halts the beacon and releases its sockets.
	Stop() error

	// OnConnection registers a callback invoked whenever a new matching
	// publisher is discovered, including ones discovered locally via
	// Advertise on this same beacon instance.
	OnConnection(func(R))

	// OnDisconnection registers a callback invoked when a previously known
	// publisher is no longer reachable. wholeProcess is true when the
	// notification covers every node in that process rather than one node.
	OnDisconnection(func(rec R, wholeProcess bool))
}

// DiscoveryTopic reports the topic a PublisherRecord announces, the
// accessor internal/beacon uses to stay generic over record types without
// depending on field names.
func (r PublisherRecord) DiscoveryTopic() Topic { return r.Topic }

// DiscoveryProcessID reports the process a PublisherRecord originated from.
func (r PublisherRecord) DiscoveryProcessID() ProcessID { return r.ProcessID }

// DiscoveryTopic reports the topic a ServicePublisherRecord announces.
func (r ServicePublisherRecord) DiscoveryTopic() Topic { return r.Topic }

// DiscoveryProcessID reports the process a ServicePublisherRecord
// originated from.
func (r ServicePublisherRecord) DiscoveryProcessID() ProcessID { return r.ProcessID }

// MessageDiscovery is the Discovery beacon scoped to message topics.
type MessageDiscovery = Discovery[PublisherRecord]

// ServiceDiscovery is the Discovery beacon scoped to services.
type ServiceDiscovery = Discovery[ServicePublisherRecord]
