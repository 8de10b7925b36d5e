package shipper

import (
	"net"
	"testing"
	"time"

	srv2 "github.com/elastic/go-lumber/server/v2"
	"go.uber.org/zap"
)

func TestShipperDeliversEvents(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv, err := srv2.NewWithListener(ln, srv2.Timeout(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	s := New(ln.Addr().String(), zap.NewNop().Sugar())
	defer s.Close()

	s.Notify("jail", "ssh", "1.2.3.4")

	select {
	case batch := <-srv.ReceiveChan():
		batch.ACK()
		if len(batch.Events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(batch.Events))
		}
		evt, ok := batch.Events[0].(map[string]interface{})
		if !ok {
			t.Fatalf("unexpected event type %T", batch.Events[0])
		}
		if evt["action"] != "jail" || evt["observer"] != "ssh" || evt["ip"] != "1.2.3.4" {
			t.Errorf("unexpected event payload: %v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for shipped event")
	}
}

func TestShipperDropsWhenSinkDown(t *testing.T) {
	// Nothing listens on this address; Notify must not block or panic.
	s := New("127.0.0.1:1", zap.NewNop().Sugar())
	for i := 0; i < 10; i++ {
		s.Notify("jail", "ssh", "1.2.3.4")
	}
	s.Close()
}
