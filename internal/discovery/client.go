package discovery

import (
	"fmt"
	"net"
	"time"

	"github.com/MeeshMakes/dgx-bridge/internal/protocol"
)

// Negotiate dials the server's discovery port, advertises the given
// locally-free candidate ports (kept for protocol compatibility with
// the original PC application; the server currently ignores them), and
// returns the triplet the server is already listening on.
func Negotiate(host string, discoveryPort int, candidates []int, timeout time.Duration) (Triplet, error) {
	addr := fmt.Sprintf("%s:%d", host, discoveryPort)
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return Triplet{}, fmt.Errorf("discovery: dial %s: %w", addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	lc := protocol.NewLineConn(conn)
	if err := lc.WriteJSON(negotiateRequest{Type: "negotiate", Candidates: candidates}); err != nil {
		return Triplet{}, fmt.Errorf("discovery: send negotiate: %w", err)
	}

	var resp negotiateResponse
	if err := lc.ReadJSON(&resp); err != nil {
		return Triplet{}, fmt.Errorf("discovery: read response: %w", err)
	}
	if !resp.OK {
		return Triplet{}, fmt.Errorf("discovery: negotiation rejected: %s", resp.Error)
	}

	return Triplet{RPC: resp.RPC, Video: resp.Video, Input: resp.Input}, nil
}

// isPortFreeLocal reports whether the client could itself bind this
// port, i.e. nothing local is already using it as an ephemeral
// outbound port. This mirrors the PC application's candidate scan: the
// server ignores the candidate list today, but the wire format still
// carries it for forward compatibility with a future negotiation
// policy that picks among them.
func isPortFreeLocal(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// ScanLocalFreePorts returns up to count ports in [start, end] that are
// currently free on this machine, in ascending order.
func ScanLocalFreePorts(start, end, count int) []int {
	var free []int
	for p := start; p <= end && len(free) < count; p++ {
		if isPortFreeLocal(p) {
			free = append(free, p)
		}
	}
	return free
}
