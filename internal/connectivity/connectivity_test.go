package connectivity

import (
	"testing"
	"time"
)

func TestManualNotifiesEverySubscriber(t *testing.T) {
	m := NewManual(false)
	a := m.Changes()
	b := m.Changes()

	m.Set(true)

	for name, ch := range map[string]<-chan bool{"a": a, "b": b} {
		select {
		case online := <-ch:
			if !online {
				t.Errorf("subscriber %s got offline, want online", name)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s missed the transition", name)
		}
	}
	if !m.Online() {
		t.Fatal("state not updated")
	}
}

func TestManualNoNotificationWithoutTransition(t *testing.T) {
	m := NewManual(true)
	ch := m.Changes()

	m.Set(true)

	select {
	case v := <-ch:
		t.Fatalf("unexpected notification %v for a no-op set", v)
	default:
	}
}

func TestManualLaggingSubscriberSeesLatestOnly(t *testing.T) {
	m := NewManual(false)
	ch := m.Changes()

	m.Set(true)
	m.Set(false)
	m.Set(true)

	// The one-slot buffer holds the first undelivered transition; the
	// consumer then reads current state rather than replaying history.
	if got := <-ch; !got {
		t.Fatalf("first buffered transition = %v, want online", got)
	}
	if !m.Online() {
		t.Fatal("current state should be online")
	}
}

func TestProbeStartsOffline(t *testing.T) {
	p := NewProbe("http://127.0.0.1:1/healthz", 0)
	if p.Online() {
		t.Fatal("probe should start offline until the first successful check")
	}
	if p.interval != 10*time.Second {
		t.Fatalf("default interval = %s", p.interval)
	}
}
