package decoration

import "github.com/axiom-compositor/axiomd/internal/scene"

// Manager tracks every toplevel's decoration negotiation state (§4.10): the
// client's last requested mode, if any, and the policy-resolved mode
// actually reported back. It holds no wire-level state — handlers.go
// translates zxdg_decoration_manager_v1/zxdg_toplevel_decoration_v1
// requests into calls against this API, the same split internal/selection
// and internal/input keep between normalized state and wire encoding.
type Manager struct {
	policy Policy

	modes     map[scene.SurfaceID]Mode
	requested map[scene.SurfaceID]Mode
	clientSet map[scene.SurfaceID]bool
}

func New(policy Policy) *Manager {
	return &Manager{
		policy:    policy,
		modes:     make(map[scene.SurfaceID]Mode),
		requested: make(map[scene.SurfaceID]Mode),
		clientSet: make(map[scene.SurfaceID]bool),
	}
}

// Mode reports a toplevel's currently resolved decoration mode, for the
// orchestrator to feed into internal/render's per-window effect parameters
// each frame ("the chosen mode is reported back to the window record so the
// renderer can draw a titlebar frame around SSD windows", §4.10).
func (m *Manager) Mode(id scene.SurfaceID) (Mode, bool) {
	mode, ok := m.modes[id]
	return mode, ok
}

// assign recomputes and stores a toplevel's resolved mode from its current
// requested/clientSet state.
func (m *Manager) assign(id scene.SurfaceID) Mode {
	mode := m.policy.Resolve(m.requested[id], m.clientSet[id])
	m.modes[id] = mode
	return mode
}

// SetRequested records a client's set_mode request and returns the
// policy-resolved mode to report back via configure.
func (m *Manager) SetRequested(id scene.SurfaceID, requested Mode) Mode {
	m.requested[id] = requested
	m.clientSet[id] = true
	return m.assign(id)
}

// Unset records an unset_mode request (the client no longer expresses a
// preference, so the policy default applies) and returns the resolved mode.
func (m *Manager) Unset(id scene.SurfaceID) Mode {
	delete(m.requested, id)
	m.clientSet[id] = false
	return m.assign(id)
}

// Forget drops all tracked state for a destroyed surface.
func (m *Manager) Forget(id scene.SurfaceID) {
	delete(m.modes, id)
	delete(m.requested, id)
	delete(m.clientSet, id)
}
