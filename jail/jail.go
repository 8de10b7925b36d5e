// Package jail tracks jailed IPs, schedules their release and escalates
// penalties for repeat offenders.
package jail

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"go.uber.org/zap"

	"github.com/ChristianF88/heimdall/command"
	"github.com/ChristianF88/heimdall/iputils"
	"github.com/ChristianF88/heimdall/observer"
)

// Repeat offenders are jailed 6x longer each time, capped so the release
// deadline cannot overflow or drift decades into the future.
const (
	escalationFactor = 6
	maxJailSeconds   = 30 * 24 * 60 * 60
)

// releaseInterval is the coarse polling period of the release sweep.
const releaseInterval = 10 * time.Second

// Entry is one jailed IP with its release deadline in epoch seconds.
type Entry struct {
	IP      uint32
	Release int64
}

// Notifier receives jail and unjail actions, e.g. for forwarding to a log
// collector. Implementations must not block for long; they are called with
// the registry lock held.
type Notifier interface {
	Notify(action, observerName, ip string)
}

// Registry consumes Hit events, issues jail commands and releases entries
// whose deadlines have passed. The entries slice is kept sorted ascending
// by release deadline; the escalation counter never decreases and is kept
// for the whole process lifetime.
type Registry struct {
	mu      sync.Mutex
	entries []Entry

	// Written only under mu, but concurrently readable for status
	// reporting without touching the lock.
	counter *haxmap.Map[uint32, uint32]

	runner    command.Runner
	jailCmd   string
	unjailCmd string
	jailTime  int64
	log       *zap.SugaredLogger
	notifier  Notifier

	now  func() int64
	tick time.Duration
}

// NewRegistry creates a registry executing commands through runner.
// jailTime is the base jail duration in seconds.
func NewRegistry(runner command.Runner, jailCmd, unjailCmd string, jailTime int64, log *zap.SugaredLogger) *Registry {
	return &Registry{
		counter:   haxmap.New[uint32, uint32](),
		runner:    runner,
		jailCmd:   jailCmd,
		unjailCmd: unjailCmd,
		jailTime:  jailTime,
		log:       log,
		now:       func() int64 { return time.Now().Unix() },
		tick:      releaseInterval,
	}
}

// SetNotifier attaches an optional action notifier.
func (r *Registry) SetNotifier(n Notifier) {
	r.notifier = n
}

// Run drains the hit channel until it is closed and runs the release sweep
// alongside. Cancel ctx to stop the sweep.
func (r *Registry) Run(ctx context.Context, hits <-chan observer.Hit) {
	go func() {
		ticker := time.NewTicker(r.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.ReleaseDue()
			}
		}
	}()

	for hit := range hits {
		r.HandleHit(hit)
	}
}

// HandleHit jails the hit IP, or refreshes its deadline when it is already
// jailed. A refresh does not re-run the jail command and does not escalate:
// the attacker is already firewalled, only the timer restarts.
func (r *Registry) HandleHit(hit observer.Hit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	ip := iputils.FormatIPv4(hit.IP)

	for i := range r.entries {
		if r.entries[i].IP == hit.IP {
			r.entries[i].Release = now + r.jailTime
			r.sortLocked()
			return
		}
	}

	count, _ := r.counter.Get(hit.IP)
	count++
	r.counter.Set(hit.IP, count)

	r.log.Infof("Jailing %s - count: %d: %s", hit.Observer, count, ip)
	if r.runner.Run(r.jailCmd, ip) {
		r.entries = append(r.entries, Entry{
			IP:      hit.IP,
			Release: now + effectiveDuration(r.jailTime, count),
		})
		r.notify("jail", hit.Observer, ip)
	}
	r.sortLocked()
}

// ReleaseDue unjails every entry whose deadline has passed, front first. A
// failed unjail command leaves the entry in place for the next sweep.
func (r *Registry) ReleaseDue() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for len(r.entries) > 0 && r.entries[0].Release <= now {
		ip := iputils.FormatIPv4(r.entries[0].IP)
		r.log.Infof("Unjailing: %s", ip)
		if !r.runner.Run(r.unjailCmd, ip) {
			return
		}
		r.entries = r.entries[1:]
		r.notify("unjail", "", ip)
	}
}

// Entries returns a snapshot of the jailed entries, sorted by deadline.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// JailCount returns how often ip has ever been jailed.
func (r *Registry) JailCount(ip uint32) uint32 {
	count, _ := r.counter.Get(ip)
	return count
}

func (r *Registry) sortLocked() {
	sort.Slice(r.entries, func(i, j int) bool {
		return r.entries[i].Release < r.entries[j].Release
	})
}

func (r *Registry) notify(action, observerName, ip string) {
	if r.notifier != nil {
		r.notifier.Notify(action, observerName, ip)
	}
}

// effectiveDuration is base * 6^(count-1) seconds, capped at 30 days.
func effectiveDuration(base int64, count uint32) int64 {
	if base > maxJailSeconds {
		return maxJailSeconds
	}
	d := base
	for i := uint32(1); i < count; i++ {
		if d > maxJailSeconds/escalationFactor {
			return maxJailSeconds
		}
		d *= escalationFactor
	}
	return d
}
