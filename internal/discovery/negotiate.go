// Package discovery implements the fixed-port handshake the client uses
// to learn which rpc/video/input ports the server is listening on, and
// the server-side listener that answers it.
package discovery

import "github.com/MeeshMakes/dgx-bridge/internal/logging"

var log = logging.L("discovery")

// Triplet is the rpc/video/input port set negotiated over the discovery
// port and persisted by the client as its "last known triplet".
type Triplet struct {
	RPC   int `json:"rpc" yaml:"rpc"`
	Video int `json:"video" yaml:"video"`
	Input int `json:"input" yaml:"input"`
}

// negotiateRequest is what the client sends on the discovery port.
type negotiateRequest struct {
	Type       string `json:"type"`
	Candidates []int  `json:"candidates,omitempty"`
}

// negotiateResponse is what the server answers with. The server never
// actually binds new listeners per negotiation — it always advertises
// the triplet it started with, since doing otherwise once leaked a
// port per retry.
type negotiateResponse struct {
	OK    bool   `json:"ok"`
	RPC   int    `json:"rpc,omitempty"`
	Video int    `json:"video,omitempty"`
	Input int    `json:"input,omitempty"`
	Error string `json:"error,omitempty"`
}
