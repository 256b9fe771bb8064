package receiver

import "sync"

// Stream is a media source that can be bound to a display plane.
type Stream interface {
	ID() string
	Close() error
}

// Surface is a display plane owned by the host scene. The manager is its only
// writer.
type Surface interface {
	SetVisible(visible bool)
	// Bind attaches s as the plane's source; nil detaches.
	Bind(s Stream)
}

// Plane is an in-memory Surface. Scenes that render elsewhere can embed it to
// keep the last applied state inspectable.
type Plane struct {
	name string

	mu      sync.Mutex
	visible bool
	source  string
}

var _ Surface = (*Plane)(nil)

func NewPlane(name string) *Plane {
	return &Plane{name: name}
}

func (p *Plane) Name() string { return p.name }

func (p *Plane) SetVisible(visible bool) {
	p.mu.Lock()
	p.visible = visible
	p.mu.Unlock()
}

func (p *Plane) Bind(s Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s == nil {
		p.source = ""
		return
	}
	p.source = s.ID()
}

func (p *Plane) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// Source returns the id of the bound stream, or "" when detached.
func (p *Plane) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}
