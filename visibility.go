package receiver

// VisibilityInput is everything the plane decision depends on. Nothing here is
// read back from a rendered surface.
type VisibilityInput struct {
	State          SessionState
	Started        bool
	Shown          bool
	FallbackActive bool
	RemoteBound    bool
}

// Planes is the visible flag of each display plane.
type Planes struct {
	Remote   bool `yaml:"remote"`
	Fallback bool `yaml:"fallback"`
}

// Visibility maps the session inputs to plane visibility. The user override
// only applies once a session has started. The remote plane wins whenever a
// stream is bound, so both planes are never visible together.
func Visibility(in VisibilityInput) Planes {
	shown := !in.Started || in.Shown
	remote := shown && in.RemoteBound && in.State.sessionOpen()
	return Planes{
		Remote:   remote,
		Fallback: shown && in.FallbackActive && !in.RemoteBound,
	}
}
