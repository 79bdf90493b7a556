package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/squidbot/squidbot/pkg/models"
)

type stubChannel struct {
	name     string
	startErr error
	started  bool
	stopped  bool
	inbound  chan InboundMessage
}

func (s *stubChannel) Name() string                      { return s.name }
func (s *stubChannel) Streaming() bool                   { return false }
func (s *stubChannel) Messages() <-chan InboundMessage   { return s.inbound }
func (s *stubChannel) Start(context.Context) error       { s.started = true; return s.startErr }
func (s *stubChannel) Stop() error                       { s.stopped = true; return nil }
func (s *stubChannel) Send(context.Context, models.Session, string, bool) error {
	return nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	ch := &stubChannel{name: "telegram"}
	r.Register(ch)

	got, ok := r.Get("telegram")
	if !ok || got != ch {
		t.Fatalf("Get(telegram) = %v, %v", got, ok)
	}
	if _, ok := r.Get("discord"); ok {
		t.Error("Get(discord) found an unregistered channel")
	}
}

func TestRegistryAllSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"telegram", "cli", "email"} {
		r.Register(&stubChannel{name: name})
	}
	all := r.All()
	want := []string{"cli", "email", "telegram"}
	for i, ch := range all {
		if ch.Name() != want[i] {
			t.Fatalf("All() order = %v, want %v", names(all), want)
		}
	}
}

func names(chs []Channel) []string {
	out := make([]string, len(chs))
	for i, ch := range chs {
		out[i] = ch.Name()
	}
	return out
}

func TestStartAllRollsBackOnFailure(t *testing.T) {
	r := NewRegistry()
	ok1 := &stubChannel{name: "a"}
	bad := &stubChannel{name: "b", startErr: errors.New("connect failed")}
	r.Register(ok1)
	r.Register(bad)

	if err := r.StartAll(context.Background()); err == nil {
		t.Fatal("StartAll = nil, want error")
	}
	if !ok1.stopped {
		t.Error("previously started channel was not stopped after failure")
	}
}

func TestStopAllStopsEverything(t *testing.T) {
	r := NewRegistry()
	a := &stubChannel{name: "a"}
	b := &stubChannel{name: "b"}
	r.Register(a)
	r.Register(b)

	if err := r.StopAll(); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if !a.stopped || !b.stopped {
		t.Error("StopAll left channels running")
	}
}
