package identity

import (
	"context"
	"sync"
)

// Provider holds the signed-in identity on the device and fans out
// auth-state changes.
type Provider struct {
	auth Authenticator

	mu        sync.Mutex
	current   *Identity
	listeners map[int]func(*Identity)
	nextID    int
}

func NewProvider(a Authenticator) *Provider {
	return &Provider{auth: a, listeners: make(map[int]func(*Identity))}
}

func (p *Provider) SignUp(ctx context.Context, req SignUpRequest) (Identity, error) {
	id, err := p.auth.SignUp(ctx, req)
	if err != nil {
		return Identity{}, err
	}
	p.set(&id)
	return id, nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (Identity, error) {
	id, err := p.auth.SignIn(ctx, email, password)
	if err != nil {
		return Identity{}, err
	}
	p.set(&id)
	return id, nil
}

// Restore reinstates an identity recovered from the credential store.
func (p *Provider) Restore(id Identity) { p.set(&id) }

func (p *Provider) SignOut(context.Context) error {
	p.set(nil)
	return nil
}

// Current returns a copy of the signed-in identity, or nil.
func (p *Provider) Current() *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	c := *p.current
	return &c
}

// OnAuthStateChanged calls fn with the current identity right away and after
// every sign-in or sign-out. The returned func removes fn and may be called
// more than once.
func (p *Provider) OnAuthStateChanged(fn func(*Identity)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	cur := p.current
	p.mu.Unlock()

	fn(copyOf(cur))

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) set(id *Identity) {
	p.mu.Lock()
	p.current = id
	fns := make([]func(*Identity), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(copyOf(id))
	}
}

func copyOf(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
