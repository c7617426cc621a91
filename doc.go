// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package transport implements a process-wide pub/sub-and-RPC runtime over
// plain TCP: nodes within a process advertise and discover topics and
// services through a pluggable Discovery beacon, exchange typed messages
// over a socket set (internal/transport), and frame them with a compact
// length-prefixed wire codec (internal/wire).
//
// A process constructs one Runtime (NewRuntime), then creates one or more
// Nodes from it (Runtime.NewNode). A Node is the public facade: Advertise,
// Publish, Subscribe, Unsubscribe, AdvertiseService, RequestAsync,
// RequestSync, UnadvertiseService, TopicList, ServiceList, TopicInfo, and
// ServiceInfo all hang off *Node.
//
// Discovery of remote publishers and services drives an internal
// connect/subscribe state machine (pubsub.go, service.go): the first
// matching discovery event for a topic or service dials the remote
// endpoint, installs a content filter, and begins delivering messages to
// local handlers the moment they arrive. Reception (dispatch.go) runs one
// accept loop per listener plus one reader goroutine per connection, all
// under the runtime's task group; the handler registries are safe for
// concurrent use by those goroutines and by callers.
package transport
