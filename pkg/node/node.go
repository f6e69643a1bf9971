package node

import (
	"net/http"

	"github.com/ryandielhenn/zephyrrelay/internal/telemetry"
	"github.com/ryandielhenn/zephyrrelay/pkg/membership"
)

// Node is the admin view of one relay instance.
type Node struct {
	id      string
	listen  string
	members membership.Set
}

func NewNode(id, listen string, members membership.Set) *Node {
	return &Node{
		id:      id,
		listen:  listen,
		members: members,
	}
}

func (n *Node) ID() string { return n.id }

func (n *Node) Addr() string { return n.listen }

// Mux wires the admin endpoints, each instrumented under its own op label.
func (n *Node) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.TrackAdmin("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("/info", telemetry.TrackAdmin("info", http.HandlerFunc(n.Info)))
	mux.Handle("/members", telemetry.TrackAdmin("members", http.HandlerFunc(n.Members)))
	mux.Handle("/metrics", telemetry.Handler())
	return mux
}
