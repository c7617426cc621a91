// Program meshctl is a minimal debug CLI for querying a meshgrid transport
// runtime's built-in introspection service, the same way any other
// requester would: it joins the mesh as an ordinary node and issues a
// synchronous request against transport.IntrospectionTopic.
//
// This is NOT the production topic/service administration tooling spec.md
// §1 scopes out as an external collaborator; it exists purely so a human
// can see what a running mesh currently advertises.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"

	transport "github.com/meshgrid/transport"
	"github.com/meshgrid/transport/internal/beacon"
)

var rootFlags struct {
	Timeout time.Duration `flag:"timeout,default=3s,Request timeout"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Query a running meshgrid transport mesh's introspection service.",
		SetFlags: func(_ *command.Env, fs *flag.FlagSet) {
			flax.MustBind(fs, &rootFlags)
		},
		Commands: []*command.C{
			{
				Name:  "topics",
				Usage: "topics",
				Help:  "List every known message topic.",
				Run: func(env *command.Env) error {
					return query1(IntrospectQuery{Query: "topics"})
				},
			},
			{
				Name:  "services",
				Usage: "services",
				Help:  "List every known service topic.",
				Run: func(env *command.Env) error {
					return query1(IntrospectQuery{Query: "services"})
				},
			},
			{
				Name:  "topic-info",
				Usage: "topic-info <topic>",
				Help:  "List every known publisher of <topic>.",
				Run: func(env *command.Env) error {
					if len(env.Args) != 1 {
						return env.Usagef("requires exactly one <topic> argument")
					}
					return query1(IntrospectQuery{Query: "topic_info", Topic: env.Args[0]})
				},
			},
			{
				Name:  "service-info",
				Usage: "service-info <topic>",
				Help:  "List every known responder for service <topic>.",
				Run: func(env *command.Env) error {
					if len(env.Args) != 1 {
						return env.Usagef("requires exactly one <topic> argument")
					}
					return query1(IntrospectQuery{Query: "service_info", Topic: env.Args[0]})
				},
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// IntrospectQuery mirrors transport.IntrospectRequest's JSON shape, kept as
// a separate type so this CLI depends on nothing but transport.Message,
// same as any other requester would.
type IntrospectQuery struct {
	Query string `json:"query"`
	Topic string `json:"topic,omitempty"`
}

// TypeName implements transport.Message.
func (IntrospectQuery) TypeName() string { return "meshgrid.transport.IntrospectRequest" }

// MarshalBinary implements encoding.BinaryMarshaler.
func (q IntrospectQuery) MarshalBinary() ([]byte, error) { return json.Marshal(q) }

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (q *IntrospectQuery) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, q) }

// query1 joins the mesh just long enough to issue one synchronous
// introspection request and print the decoded reply as indented JSON.
func query1(req IntrospectQuery) error {
	ctx := context.Background()

	msgDisc := beacon.New[transport.PublisherRecord](beacon.DefaultMessagePort)
	svcDisc := beacon.New[transport.ServicePublisherRecord](beacon.DefaultServicePort)

	rt, err := transport.NewRuntime(ctx, msgDisc, svcDisc)
	if err != nil {
		return fmt.Errorf("meshctl: starting runtime: %w", err)
	}
	defer rt.Close()

	n := rt.NewNode()
	defer n.Close()

	reply, err := n.RequestSync(ctx, transport.IntrospectionTopic,
		"meshgrid.transport.IntrospectRequest", "meshgrid.transport.IntrospectResponse",
		req, rootFlags.Timeout)
	if err != nil {
		return fmt.Errorf("meshctl: query failed: %w", err)
	}

	raw, ok := reply.(transport.RawMessage)
	if !ok {
		return fmt.Errorf("meshctl: unexpected reply type %T", reply)
	}
	var out map[string]any
	if err := json.Unmarshal(raw.Data, &out); err != nil {
		return fmt.Errorf("meshctl: decoding reply: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
