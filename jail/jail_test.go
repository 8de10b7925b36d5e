package jail

import (
	"sort"
	"testing"

	"go.uber.org/zap"

	"github.com/ChristianF88/heimdall/iputils"
	"github.com/ChristianF88/heimdall/observer"
)

// recorder is a command.Runner capturing invocations.
type recorder struct {
	calls []call
	fail  bool
}

type call struct {
	template string
	ip       string
}

func (r *recorder) Run(template, ip string) bool {
	r.calls = append(r.calls, call{template: template, ip: ip})
	return !r.fail
}

type fakeClock struct {
	sec int64
}

func (c *fakeClock) now() int64 { return c.sec }

func newTestRegistry(runner *recorder, jailTime int64) (*Registry, *fakeClock) {
	clock := &fakeClock{sec: 1_000_000}
	r := NewRegistry(runner, "jail {ip}", "unjail {ip}", jailTime, zap.NewNop().Sugar())
	r.now = clock.now
	return r, clock
}

func mustIP(t *testing.T, s string) uint32 {
	t.Helper()
	ip, ok := iputils.ParseIPv4(s)
	if !ok {
		t.Fatalf("bad test ip %q", s)
	}
	return ip
}

func TestFirstJail(t *testing.T) {
	rec := &recorder{}
	r, clock := newTestRegistry(rec, 60)
	ip := mustIP(t, "1.2.3.4")

	r.HandleHit(observer.Hit{Observer: "ssh", IP: ip})

	if len(rec.calls) != 1 {
		t.Fatalf("expected 1 command, got %d", len(rec.calls))
	}
	if rec.calls[0].template != "jail {ip}" || rec.calls[0].ip != "1.2.3.4" {
		t.Errorf("unexpected command %+v", rec.calls[0])
	}

	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if want := clock.sec + 60; entries[0].Release != want {
		t.Errorf("release = %d, want %d", entries[0].Release, want)
	}
	if got := r.JailCount(ip); got != 1 {
		t.Errorf("jail count = %d, want 1", got)
	}
}

func TestRefreshDoesNotReescalate(t *testing.T) {
	rec := &recorder{}
	r, clock := newTestRegistry(rec, 60)
	ip := mustIP(t, "1.2.3.4")

	r.HandleHit(observer.Hit{Observer: "ssh", IP: ip})
	clock.sec += 45
	r.HandleHit(observer.Hit{Observer: "ssh", IP: ip})

	if len(rec.calls) != 1 {
		t.Fatalf("refresh must not re-issue the jail command, got %d calls", len(rec.calls))
	}
	entries := r.Entries()
	if want := clock.sec + 60; entries[0].Release != want {
		t.Errorf("refreshed release = %d, want %d", entries[0].Release, want)
	}
	if got := r.JailCount(ip); got != 1 {
		t.Errorf("jail count after refresh = %d, want 1", got)
	}
}

func TestEscalationOnSecondJail(t *testing.T) {
	rec := &recorder{}
	r, clock := newTestRegistry(rec, 60)
	ip := mustIP(t, "1.2.3.4")

	r.HandleHit(observer.Hit{Observer: "ssh", IP: ip})

	// Force a release.
	clock.sec += 120
	r.ReleaseDue()
	if len(r.Entries()) != 0 {
		t.Fatal("entry should have been released")
	}
	if len(rec.calls) != 2 || rec.calls[1].template != "unjail {ip}" {
		t.Fatalf("expected an unjail command, got %+v", rec.calls)
	}

	// Second offence: 60 * 6.
	r.HandleHit(observer.Hit{Observer: "ssh", IP: ip})
	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if want := clock.sec + 360; entries[0].Release != want {
		t.Errorf("escalated release = %d, want %d", entries[0].Release, want)
	}
	if got := r.JailCount(ip); got != 2 {
		t.Errorf("jail count = %d, want 2", got)
	}
}

func TestFailedJailCommandNotTracked(t *testing.T) {
	rec := &recorder{fail: true}
	r, _ := newTestRegistry(rec, 60)
	ip := mustIP(t, "1.2.3.4")

	r.HandleHit(observer.Hit{Observer: "ssh", IP: ip})

	if len(r.Entries()) != 0 {
		t.Error("failed jail command must not create an entry")
	}
	// The next hit retries the command.
	rec.fail = false
	r.HandleHit(observer.Hit{Observer: "ssh", IP: ip})
	if len(r.Entries()) != 1 {
		t.Error("retry after failed jail should create the entry")
	}
}

func TestFailedUnjailLeavesEntry(t *testing.T) {
	rec := &recorder{}
	r, clock := newTestRegistry(rec, 60)
	ip := mustIP(t, "1.2.3.4")

	r.HandleHit(observer.Hit{Observer: "ssh", IP: ip})
	clock.sec += 120

	rec.fail = true
	r.ReleaseDue()
	if len(r.Entries()) != 1 {
		t.Fatal("failed unjail must leave the entry in place")
	}

	// Next sweep succeeds.
	rec.fail = false
	r.ReleaseDue()
	if len(r.Entries()) != 0 {
		t.Error("entry should be gone after a successful unjail")
	}
}

func TestEntriesStaySorted(t *testing.T) {
	rec := &recorder{}
	r, clock := newTestRegistry(rec, 60)

	// Escalate 2.2.2.2 once up front so its next jail runs 6x longer and
	// insertion order differs from deadline order.
	r.HandleHit(observer.Hit{Observer: "ssh", IP: mustIP(t, "2.2.2.2")})
	clock.sec += 120
	r.ReleaseDue()
	clock.sec -= 120

	for _, s := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"} {
		r.HandleHit(observer.Hit{Observer: "ssh", IP: mustIP(t, s)})
		clock.sec += 1
	}

	entries := r.Entries()
	if !sort.SliceIsSorted(entries, func(i, j int) bool {
		return entries[i].Release < entries[j].Release
	}) {
		t.Errorf("entries not sorted by release deadline: %+v", entries)
	}
}

func TestReleaseSweepsAllDueEntries(t *testing.T) {
	rec := &recorder{}
	r, clock := newTestRegistry(rec, 60)

	for _, s := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		r.HandleHit(observer.Hit{Observer: "ssh", IP: mustIP(t, s)})
	}
	clock.sec += 120
	r.ReleaseDue()

	if got := len(r.Entries()); got != 0 {
		t.Errorf("expected all due entries released, %d left", got)
	}
}

func TestEffectiveDuration(t *testing.T) {
	tests := []struct {
		name  string
		base  int64
		count uint32
		want  int64
	}{
		{name: "first jail", base: 60, count: 1, want: 60},
		{name: "second jail", base: 60, count: 2, want: 360},
		{name: "third jail", base: 60, count: 3, want: 2160},
		{name: "capped at 30 days", base: 60, count: 10, want: maxJailSeconds},
		{name: "deep escalation does not overflow", base: 60, count: 64, want: maxJailSeconds},
		{name: "huge base capped", base: maxJailSeconds * 2, count: 1, want: maxJailSeconds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := effectiveDuration(tt.base, tt.count); got != tt.want {
				t.Errorf("effectiveDuration(%d, %d) = %d, want %d", tt.base, tt.count, got, tt.want)
			}
		})
	}
}
