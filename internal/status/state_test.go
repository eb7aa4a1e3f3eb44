package status

import (
	"testing"

	"github.com/matheus3301/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, AuthRequired},
		{Booting, Connecting},
		{Booting, Error},
		{AuthRequired, Connecting},
		{Connecting, Ready},
		{Connecting, Disconnected},
		{Ready, Disconnected},
		{Ready, AuthRequired},
		{Disconnected, Connecting},
		{Error, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(BOOTING -> READY) should fail")
	}
	if m.Current() != Booting {
		t.Errorf("state = %s, want BOOTING (should not have changed)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(AuthRequired); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindSessionStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindSessionStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != AuthRequired {
		t.Errorf("change = %v -> %v, want BOOTING -> AUTH_REQUIRED", change.From, change.To)
	}
}

// TestLoginThenConnect covers a first run: no credential, then a token is
// saved and the transport connects.
func TestLoginThenConnect(t *testing.T) {
	m := NewMachine(nil)
	steps := []State{AuthRequired, Connecting, Ready}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// TestDropAndReconnect covers READY -> DISCONNECTED -> CONNECTING -> READY.
func TestDropAndReconnect(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)
	for _, s := range []State{Disconnected, Connecting, Ready} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

func TestSettle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, AuthRequired)

	if err := m.Settle(Ready); err != nil {
		t.Fatalf("Settle(READY) from AUTH_REQUIRED: %v", err)
	}
	if m.Current() != Ready {
		t.Errorf("state = %s, want READY", m.Current())
	}
	if err := m.Settle(Ready); err != nil {
		t.Errorf("Settle to current state: %v", err)
	}

	walkTo(t, m, Booting)
	if err := m.Settle(Disconnected); err != nil {
		t.Fatalf("Settle(DISCONNECTED) from BOOTING: %v", err)
	}
}

// walkTo is a helper that transitions a fresh machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	if m.Current() != Booting {
		if err := m.Transition(Error); err != nil {
			t.Fatalf("walkTo(%s): reset: %v", target, err)
		}
		if err := m.Transition(Booting); err != nil {
			t.Fatalf("walkTo(%s): reset: %v", target, err)
		}
	}
	paths := map[State][]State{
		Booting:      {},
		AuthRequired: {AuthRequired},
		Connecting:   {Connecting},
		Ready:        {Connecting, Ready},
		Disconnected: {Connecting, Disconnected},
		Error:        {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
