package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"
)

// healthz returns 200 OK to indicate the relay is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// info writes a JSON payload with the relay ID, process ID, current time,
// listen address and member count.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		ID      string    `json:"id"`
		PID     int       `json:"pid"`
		Now     time.Time `json:"now"`
		Listen  string    `json:"listen"`
		Members int       `json:"members"`
	}
	writeJSON(w, resp{ID: n.id, PID: os.Getpid(), Now: time.Now(), Listen: n.listen, Members: n.members.Len()})
}

type memberView struct {
	Addr   string    `json:"addr"`
	Port   uint16    `json:"port"`
	Family string    `json:"family"`
	Joined time.Time `json:"joined"`
}

// members lists every known member in join order.
func (n *Node) Members(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ms := n.members.Members()
	out := make([]memberView, 0, len(ms))
	for _, m := range ms {
		out = append(out, memberView{
			Addr:   m.Endpoint.Host(),
			Port:   m.Endpoint.Port(),
			Family: m.Endpoint.Family().String(),
			Joined: m.Joined,
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
