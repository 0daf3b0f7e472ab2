package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/stocktake/internal/clock"
)

// fakeProvider is a scriptable IdentityProvider.
type fakeProvider struct {
	clock clock.Clock
	ttl   time.Duration

	mu        sync.Mutex
	principal *Principal
	err       error
	gate      chan struct{}

	started     chan struct{}
	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeProvider(clk clock.Clock) *fakeProvider {
	return &fakeProvider{
		clock:     clk,
		principal: &Principal{UserID: "u1", Email: "u1@example.com", Role: "admin", TenantID: "T1"},
		started:   make(chan struct{}, 64),
	}
}

func (f *fakeProvider) CurrentPrincipal(context.Context) (*Principal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.principal == nil {
		return nil, false
	}
	p := *f.principal
	return &p, true
}

func (f *fakeProvider) IssueToken(_ context.Context, p Principal, force bool) (Token, error) {
	n := f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	select {
	case f.started <- struct{}{}:
	default:
	}

	f.mu.Lock()
	gate, err := f.gate, f.err
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return Token{}, err
	}
	return Token{Value: fmt.Sprintf("%s-tok-%d", p.UserID, n), IssuedAt: f.clock.Now(), TTL: f.ttl}, nil
}

func (f *fakeProvider) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeProvider) setGate(gate chan struct{}) {
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
}

func (f *fakeProvider) signOut() {
	f.mu.Lock()
	f.principal = nil
	f.mu.Unlock()
}

func (f *fakeProvider) signIn(p Principal) {
	f.mu.Lock()
	f.principal = &p
	f.mu.Unlock()
}
