// Package decoration is the Decoration Policy component (C10): per-toplevel
// server-side vs client-side decoration negotiation, plus the SSD titlebar
// text rasterizer internal/render blits above a window's content quad.
package decoration

import (
	"os"
	"strings"
)

// Mode is a toplevel's negotiated decoration mode, using
// zxdg_toplevel_decoration_v1's real enum values (1/2) rather than this
// module's usual declaration-order opcode convention, since this one is a
// protocol *argument* value a client's own decision logic inspects, not
// just an internal opcode number.
type Mode uint32

const (
	ModeClientSide Mode = 1
	ModeServerSide Mode = 2
)

// Policy is the compositor-wide decoration negotiation rule (§4.10).
type Policy struct {
	// ForceClientSide, when true, always resolves every toplevel to
	// ClientSide regardless of what the client requests (§6
	// AXIOM_FORCE_CSD).
	ForceClientSide bool
}

// PolicyFromEnv reads AXIOM_FORCE_CSD (=1/true/TRUE/True, §6) into a Policy.
func PolicyFromEnv() Policy {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("AXIOM_FORCE_CSD")))
	return Policy{ForceClientSide: v == "1" || v == "true"}
}

// Resolve implements §4.10's negotiation rule: forced client-side wins
// outright; otherwise the client's last requested mode wins if it ever set
// one, defaulting to ServerSide.
func (p Policy) Resolve(requested Mode, clientSet bool) Mode {
	if p.ForceClientSide {
		return ModeClientSide
	}
	if clientSet {
		return requested
	}
	return ModeServerSide
}
