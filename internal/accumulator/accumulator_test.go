package accumulator

import (
	"testing"

	"github.com/aminsaiful/simplemux-go/internal/metrics"
)

type flushCall struct {
	bundle []byte
	reason string
}

func TestOfferSinglePacketDefaultTriggers(t *testing.T) {
	// Scenario 1 (spec.md §8): n_max=1 (all other triggers infinite),
	// one 100-byte packet -> one 102-byte bundle (two-byte separator
	// 0x40 0x64, since 100 >= 64), sent immediately.
	var got []flushCall
	a := New(Config{MTU: 1500}, 0, func(b []byte, r string) {
		got = append(got, flushCall{append([]byte(nil), b...), r})
	})
	payload := make([]byte, 100)
	a.Offer(payload, 0)
	if len(got) != 1 {
		t.Fatalf("got %d flushes, want 1", len(got))
	}
	if len(got[0].bundle) != 102 {
		t.Fatalf("bundle length = %d, want 102", len(got[0].bundle))
	}
	if got[0].bundle[0] != 0x40 {
		t.Fatalf("separator byte = %#x, want 0x40", got[0].bundle[0])
	}
	if got[0].reason != metrics.ReasonCount {
		t.Fatalf("reason = %s, want %s", got[0].reason, metrics.ReasonCount)
	}
	if a.PendingCount() != 0 || a.PendingBytes() != 0 {
		t.Fatalf("accumulator not empty after flush: count=%d bytes=%d", a.PendingCount(), a.PendingBytes())
	}
}

func TestOfferCountTrigger(t *testing.T) {
	// Scenario 2: n_max=3, others infinite; three 50-byte packets -> one
	// 153-byte bundle, no earlier send.
	var got []flushCall
	a := New(Config{NMax: 3, MTU: 1500}, 0, func(b []byte, r string) {
		got = append(got, flushCall{append([]byte(nil), b...), r})
	})
	for i := 0; i < 2; i++ {
		a.Offer(make([]byte, 50), 0)
		if len(got) != 0 {
			t.Fatalf("unexpected flush before n_max reached (i=%d)", i)
		}
	}
	a.Offer(make([]byte, 50), 0)
	if len(got) != 1 {
		t.Fatalf("got %d flushes, want 1", len(got))
	}
	if len(got[0].bundle) != 153 {
		t.Fatalf("bundle length = %d, want 153", len(got[0].bundle))
	}
}

func TestOfferSizeTrigger(t *testing.T) {
	// Scenario 3: size_threshold=200, n_max=100; each 100-byte packet
	// takes 2+100 bytes, so the flush comes after the second packet
	// (204 > 200); accumulator empty after.
	var got []flushCall
	a := New(Config{NMax: 100, SizeThreshold: 200, MTU: 1500}, 0, func(b []byte, r string) {
		got = append(got, flushCall{append([]byte(nil), b...), r})
	})
	a.Offer(make([]byte, 100), 0)
	if len(got) != 0 {
		t.Fatalf("unexpected flush before threshold")
	}
	a.Offer(make([]byte, 100), 0)
	if len(got) != 1 {
		t.Fatalf("got %d flushes, want 1", len(got))
	}
	if got[0].reason != metrics.ReasonSize {
		t.Fatalf("reason = %s, want %s", got[0].reason, metrics.ReasonSize)
	}
	if len(got[0].bundle) != 204 {
		t.Fatalf("bundle length = %d, want 204", len(got[0].bundle))
	}
	if a.PendingCount() != 0 {
		t.Fatalf("expected empty accumulator after flush, got count=%d", a.PendingCount())
	}
}

func TestOfferMTUClamp(t *testing.T) {
	// Scenario 4: MTU=300, n_max=100; accumulator holds 2x100B+2 two-byte
	// separators = 204B; offering a 100B packet (predicted 306 > 300) must
	// flush the 204-byte bundle first, then start a new accumulator holding
	// just that packet.
	var got []flushCall
	a := New(Config{NMax: 100, MTU: 300}, 0, func(b []byte, r string) {
		got = append(got, flushCall{append([]byte(nil), b...), r})
	})
	a.Offer(make([]byte, 100), 0)
	a.Offer(make([]byte, 100), 0)
	if len(got) != 0 {
		t.Fatalf("unexpected flush while under MTU")
	}
	a.Offer(make([]byte, 100), 0)
	if len(got) != 1 {
		t.Fatalf("got %d flushes, want 1", len(got))
	}
	if got[0].reason != metrics.ReasonMTU {
		t.Fatalf("reason = %s, want %s", got[0].reason, metrics.ReasonMTU)
	}
	if len(got[0].bundle) != 204 {
		t.Fatalf("flushed bundle length = %d, want 204", len(got[0].bundle))
	}
	if a.PendingCount() != 1 || a.PendingBytes() != 102 {
		t.Fatalf("post-flush accumulator = (count=%d, bytes=%d), want (1, 102)", a.PendingCount(), a.PendingBytes())
	}
}

func TestTickPeriodExpiryNoTraffic(t *testing.T) {
	// Scenario 5: period=10000us, no packets -> last_flush_time advances
	// on each tick, zero datagrams sent.
	var sent int
	a := New(Config{PeriodMicro: 10000, MTU: 1500}, 0, func(b []byte, r string) { sent++ })
	for i, now := range []int64{10001, 20002, 30003} {
		a.Tick(now)
		if a.LastFlush() != now {
			t.Fatalf("tick %d: LastFlush=%d, want %d", i, a.LastFlush(), now)
		}
	}
	if sent != 0 {
		t.Fatalf("sent=%d, want 0", sent)
	}
}

func TestTickFlushesPendingOnPeriod(t *testing.T) {
	var got []flushCall
	a := New(Config{PeriodMicro: 1000, MTU: 1500}, 0, func(b []byte, r string) {
		got = append(got, flushCall{append([]byte(nil), b...), r})
	})
	a.Offer(make([]byte, 10), 500)
	if len(got) != 0 {
		t.Fatalf("unexpected early flush")
	}
	a.Tick(1200)
	if len(got) != 1 || got[0].reason != metrics.ReasonPeriod {
		t.Fatalf("got %v, want one period flush", got)
	}
}

func TestTimeoutTrigger(t *testing.T) {
	var got []flushCall
	a := New(Config{TimeoutMicro: 100, MTU: 1500}, 0, func(b []byte, r string) {
		got = append(got, flushCall{append([]byte(nil), b...), r})
	})
	a.Offer(make([]byte, 10), 0)
	if len(got) != 0 {
		t.Fatalf("unexpected flush on first packet")
	}
	a.Offer(make([]byte, 10), 150) // now - lastFlush(0) = 150 > 100
	if len(got) != 1 || got[0].reason != metrics.ReasonTimeout {
		t.Fatalf("got %v, want one timeout flush", got)
	}
}

func TestOfferOversizeSinglePayloadDropped(t *testing.T) {
	var sent int
	a := New(Config{MTU: 50}, 0, func(b []byte, r string) { sent++ })
	a.Offer(make([]byte, 100), 0) // sep(2)+100 > MTU(50), accumulator empty -> drop
	if sent != 0 {
		t.Fatalf("sent=%d, want 0 (oversize payload must be dropped, not sent)", sent)
	}
	if a.PendingCount() != 0 || a.PendingBytes() != 0 {
		t.Fatalf("accumulator not empty after drop")
	}
}

func TestDefaultNMaxPassthroughWhenAllInfinite(t *testing.T) {
	var got []flushCall
	a := New(Config{MTU: 1500}, 0, func(b []byte, r string) {
		got = append(got, flushCall{b, r})
	})
	a.Offer(make([]byte, 5), 0)
	if len(got) != 1 {
		t.Fatalf("expected immediate flush with n_max defaulting to 1, got %d flushes", len(got))
	}
}

func TestDefaultNMaxCapacityWhenAnyTriggerFinite(t *testing.T) {
	var got []flushCall
	a := New(Config{SizeThreshold: 100000, SizeThresholdExplicit: true, MTU: 1_000_000}, 0, func(b []byte, r string) {
		got = append(got, flushCall{b, r})
	})
	for i := 0; i < defaultMaxCapacity-1; i++ {
		a.Offer(make([]byte, 1), 0)
	}
	if len(got) != 0 {
		t.Fatalf("unexpected flush before reaching default capacity")
	}
	a.Offer(make([]byte, 1), 0)
	if len(got) != 1 {
		t.Fatalf("expected flush once default capacity (%d) reached", defaultMaxCapacity)
	}
}

func TestDefaultNMaxPassthroughWithUnexplicitSizeThresholdDefault(t *testing.T) {
	// Regression: cmd/simplemux always sets SizeThreshold to its flag
	// default (1472) even when the user configured nothing, so resolvedNMax
	// must not treat that alone as "a trigger was configured" (spec.md §3,
	// §8 Scenario 1) unless SizeThresholdExplicit is also set.
	var got []flushCall
	a := New(Config{SizeThreshold: 1472, MTU: 1500}, 0, func(b []byte, r string) {
		got = append(got, flushCall{b, r})
	})
	a.Offer(make([]byte, 5), 0)
	if len(got) != 1 {
		t.Fatalf("expected immediate flush (n_max=1 passthrough), got %d flushes", len(got))
	}
}

func TestDeadlineComputation(t *testing.T) {
	a := New(Config{PeriodMicro: 1000, MTU: 1500}, 0, func([]byte, string) {})
	if d := a.Deadline(0); d != 1000 {
		t.Fatalf("Deadline(0) = %d, want 1000", d)
	}
	if d := a.Deadline(900); d != 100 {
		t.Fatalf("Deadline(900) = %d, want 100", d)
	}
	if d := a.Deadline(5000); d != 0 {
		t.Fatalf("Deadline(5000) = %d, want 0 (non-negative clamp)", d)
	}
}

func TestDeadlineNoPeriodConfigured(t *testing.T) {
	a := New(Config{MTU: 1500}, 0, func([]byte, string) {})
	if d := a.Deadline(12345); d != -1 {
		t.Fatalf("Deadline with no period = %d, want -1", d)
	}
}
