// Package observer tails one log file per configured observer and turns
// threshold-crossing IPs into Hit events for the jail registry.
package observer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/ChristianF88/heimdall/logparser"
	"github.com/ChristianF88/heimdall/sliding"
)

// Hit asserts that an IP crossed an observer's threshold.
type Hit struct {
	Observer string
	IP       uint32
}

// Attackers probe thousands of IPs; the per-observer statistics are capped
// so an unbounded map cannot become a DoS vector of its own.
const lruCapacity = 5000

// DefaultPollInterval is the sleep between tail cycles.
const DefaultPollInterval = 5 * time.Millisecond

// Observer is a configured (file, patterns, threshold) triple.
type Observer struct {
	Name         string
	FilePath     string
	Patterns     *logparser.Set
	LimitCount   uint32
	LimitMinutes uint8
}

// Start stats and opens the observed file, then runs the tail loop on its
// own goroutine. An initial stat or open failure is returned to the caller
// and aborts startup; once the loop is running, every filesystem error is
// transient and retried.
func (o *Observer) Start(ctx context.Context, wg *sync.WaitGroup, hits chan<- Hit, log *zap.SugaredLogger, readFromStart bool, poll time.Duration) error {
	fi, err := os.Stat(o.FilePath)
	if err != nil {
		return fmt.Errorf("could not read file %s: %w", o.FilePath, err)
	}

	f, err := os.Open(o.FilePath)
	if err != nil {
		return fmt.Errorf("could not open file %s: %w", o.FilePath, err)
	}
	if !readFromStart {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return fmt.Errorf("could not seek in file %s: %w", o.FilePath, err)
		}
	}

	log.Infof("observing file: %s", o.FilePath)

	t := newTailer(o, hits, log, poll, lruCapacity)
	t.file = f
	t.reader = bufio.NewReader(f)
	t.size = fi.Size()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer t.file.Close()
		t.run(ctx)
	}()
	return nil
}

// tailer is the per-observer worker state. It exclusively owns its LRU of
// HourStats; no locking is needed.
type tailer struct {
	obs     *Observer
	hits    chan<- Hit
	log     *zap.SugaredLogger
	poll    time.Duration
	file    *os.File
	reader  *bufio.Reader
	size    int64
	pending string
	stats   *lru.Cache[uint32, *sliding.HourStat]
}

func newTailer(o *Observer, hits chan<- Hit, log *zap.SugaredLogger, poll time.Duration, capacity int) *tailer {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	stats, _ := lru.New[uint32, *sliding.HourStat](capacity)
	return &tailer{
		obs:   o,
		hits:  hits,
		log:   log,
		poll:  poll,
		stats: stats,
	}
}

func (t *tailer) run(ctx context.Context) {
	for {
		t.poll1(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.poll):
		}
	}
}

// poll1 is one tail cycle: check for rotation, then drain available lines.
func (t *tailer) poll1(ctx context.Context) {
	fi, err := os.Stat(t.obs.FilePath)
	if err != nil {
		// File may be mid-rotation; try a fresh handle and retry next
		// cycle either way.
		f, err := os.Open(t.obs.FilePath)
		if err != nil {
			return
		}
		t.file.Close()
		t.file = f
		t.reader.Reset(f)
		t.pending = ""
		return
	}

	if fi.Size() < t.size {
		// Truncated or rotated in place: everything before the current
		// end is gone, start over from there.
		if _, err := t.file.Seek(0, io.SeekEnd); err != nil {
			return
		}
		t.reader.Reset(t.file)
		t.pending = ""
	}
	t.size = fi.Size()

	t.drain(ctx)
}

// drain reads complete lines until no more data is available. A trailing
// fragment without a newline is held back until the writer finishes it.
func (t *tailer) drain(ctx context.Context) {
	for {
		chunk, err := t.reader.ReadString('\n')
		if err == nil {
			line := t.pending + strings.TrimRight(chunk, "\r\n")
			t.pending = ""
			t.processLine(ctx, line)
			continue
		}
		if len(chunk) > 0 && err == io.EOF {
			t.pending += chunk
		}
		return
	}
}

func (t *tailer) processLine(ctx context.Context, line string) {
	res, ok := t.obs.Patterns.Detect(line)
	if !ok {
		return
	}

	if sum := t.record(res); sum >= t.obs.LimitCount {
		// A freshly-jailed IP starts from zero on its next activity.
		t.stats.Remove(res.IP)
		select {
		case t.hits <- Hit{Observer: t.obs.Name, IP: res.IP}:
		case <-ctx.Done():
		}
	}
}

// record updates the per-IP window and returns the hit count over the
// trailing limit window.
func (t *tailer) record(res logparser.Result) uint32 {
	if hs, ok := t.stats.Get(res.IP); ok {
		hs.Add(res.Hour, res.Minute, 1)
		return hs.Sum(res.Hour, res.Minute, t.obs.LimitMinutes)
	}
	t.stats.Add(res.IP, sliding.NewHourStat(res.Hour, res.Minute, 1))
	return 1
}
