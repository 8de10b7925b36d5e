// Package shipper forwards jail and unjail actions to a log collector over
// the lumberjack v2 protocol (logstash/beats input).
package shipper

import (
	"sync"
	"time"

	v2 "github.com/elastic/go-lumber/client/v2"
	"go.uber.org/zap"
)

type event struct {
	action   string
	observer string
	ip       string
	ts       int64
}

// Shipper is a best-effort event forwarder. Events are queued on a small
// buffer and shipped from a dedicated worker; when the collector is down or
// slow, events are dropped and the drop is logged. It never blocks the jail
// registry.
type Shipper struct {
	addr   string
	log    *zap.SugaredLogger
	events chan event
	done   chan struct{}
	wg     sync.WaitGroup

	client *v2.SyncClient
}

// New starts a shipper worker connected to addr ("host:port").
func New(addr string, log *zap.SugaredLogger) *Shipper {
	s := &Shipper{
		addr:   addr,
		log:    log,
		events: make(chan event, 128),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Notify implements jail.Notifier.
func (s *Shipper) Notify(action, observerName, ip string) {
	ev := event{action: action, observer: observerName, ip: ip, ts: time.Now().Unix()}
	select {
	case s.events <- ev:
	default:
		s.log.Warnf("event sink backlogged, dropping %s event for %s", action, ip)
	}
}

// Close flushes queued events and shuts the worker down.
func (s *Shipper) Close() {
	close(s.done)
	s.wg.Wait()
}

func (s *Shipper) worker() {
	defer s.wg.Done()
	defer s.disconnect()

	for {
		select {
		case ev := <-s.events:
			s.ship(ev)
		case <-s.done:
			for {
				select {
				case ev := <-s.events:
					s.ship(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Shipper) ship(ev event) {
	if s.client == nil {
		client, err := v2.SyncDial(s.addr)
		if err != nil {
			s.log.Warnf("event sink %s unreachable, dropping %s event for %s: %v", s.addr, ev.action, ev.ip, err)
			return
		}
		s.client = client
	}

	batch := []interface{}{
		map[string]interface{}{
			"@timestamp": time.Unix(ev.ts, 0).UTC().Format(time.RFC3339),
			"action":     ev.action,
			"observer":   ev.observer,
			"ip":         ev.ip,
			"program":    "heimdall",
		},
	}
	if _, err := s.client.Send(batch); err != nil {
		s.log.Warnf("event sink send failed, dropping %s event for %s: %v", ev.action, ev.ip, err)
		s.disconnect()
	}
}

func (s *Shipper) disconnect() {
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
}
