package widget

import (
	"context"
	"sync"
)

// FakeHost implements Host in memory for tests and offline development.
// Configure behaviour through the exported fields before use.
type FakeHost struct {
	Version string // defaults to "3"
	LoadErr error
	InitErr error

	// Containers lists the mountable containers. Nil means any container.
	Containers map[string]bool
	MountErr   error

	// ConfirmFunc answers Confirm; nil confirms with status "succeeded".
	ConfirmFunc func(ctx context.Context, params ConfirmParams) (Confirmation, error)

	mu       sync.Mutex
	secrets  []string
	mounts   int
	confirms int
	destroys int
}

func (f *FakeHost) Load(_ context.Context) (string, error) {
	if f.LoadErr != nil {
		return "", f.LoadErr
	}
	if f.Version == "" {
		return "3", nil
	}
	return f.Version, nil
}

func (f *FakeHost) Elements(_ context.Context, clientSecret string, _ Appearance) (Elements, error) {
	if f.InitErr != nil {
		return nil, f.InitErr
	}
	f.mu.Lock()
	f.secrets = append(f.secrets, clientSecret)
	f.mu.Unlock()
	return &fakeElements{host: f}, nil
}

// AddContainer makes a container mountable.
func (f *FakeHost) AddContainer(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Containers == nil {
		f.Containers = make(map[string]bool)
	}
	f.Containers[name] = true
}

// Secrets returns every session token a form was created with.
func (f *FakeHost) Secrets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.secrets...)
}

// Mounts returns how many successful mounts happened.
func (f *FakeHost) Mounts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounts
}

// Confirms returns how many confirm calls happened.
func (f *FakeHost) Confirms() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirms
}

type fakeElements struct {
	host *FakeHost
}

func (e *fakeElements) Mount(_ context.Context, container string) error {
	f := e.host
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MountErr != nil {
		return f.MountErr
	}
	if f.Containers != nil && !f.Containers[container] {
		return ErrContainerNotFound
	}
	f.mounts++
	return nil
}

func (e *fakeElements) Confirm(ctx context.Context, params ConfirmParams) (Confirmation, error) {
	f := e.host
	f.mu.Lock()
	f.confirms++
	fn := f.ConfirmFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, params)
	}
	return Confirmation{Status: "succeeded"}, nil
}

func (e *fakeElements) Destroy(_ context.Context) error {
	f := e.host
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys++
	return nil
}

var _ Host = (*FakeHost)(nil)
