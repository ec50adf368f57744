package workload

import (
	"testing"
	"time"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/config"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/telegraph"
)

func TestGenerate_ReferenceExperiment(t *testing.T) {
	// WHAT: 5s at 50ms on tags {1, 2}
	// WHY: 100 evenly spaced messages, only configured tags

	cfg := config.Default().Workload
	schedule := Generate(cfg, NewRand(7))

	if len(schedule) != 100 {
		t.Fatalf("expected 100 messages, got %d", len(schedule))
	}
	for i, m := range schedule {
		if want := time.Duration(i) * 50 * time.Millisecond; m.At != want {
			t.Fatalf("message %d at %v, want %v", i, m.At, want)
		}
		if m.Tag != 1 && m.Tag != 2 {
			t.Fatalf("message %d has unexpected tag %v", i, m.Tag)
		}
	}
	if schedule.End() != 4950*time.Millisecond {
		t.Errorf("expected end 4.95s, got %v", schedule.End())
	}

	counts := schedule.CountByTag()
	if counts[1]+counts[2] != 100 || counts[1] == 0 || counts[2] == 0 {
		t.Errorf("unexpected tag spread: %v", counts)
	}
}

func TestGenerate_SeedIsReproducible(t *testing.T) {
	cfg := config.Default().Workload
	a := Generate(cfg, NewRand(42))
	b := Generate(cfg, NewRand(42))

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("schedules diverge at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestGenerate_Degenerate(t *testing.T) {
	if s := Generate(config.WorkloadConfig{Duration: time.Second}, NewRand(1)); s != nil {
		t.Errorf("expected nil schedule without interval, got %d messages", len(s))
	}
	if s := Generate(config.WorkloadConfig{Duration: time.Second, Interval: time.Millisecond}, NewRand(1)); s != nil {
		t.Errorf("expected nil schedule without tags, got %d messages", len(s))
	}
	if (Schedule{}).End() != 0 {
		t.Error("empty schedule must end at zero")
	}
}

func TestRandomSubscriptions_Bounds(t *testing.T) {
	r := config.RandomSubscriptions{
		Listeners:        100,
		MaxSubscriptions: 5,
		MinDelay:         16 * time.Millisecond,
		MaxDelay:         500 * time.Millisecond,
	}
	tags := []int{0, 1, 2, 3}

	subs := RandomSubscriptions(r, tags, NewRand(3))
	if len(subs) == 0 || len(subs) > 500 {
		t.Fatalf("unexpected subscription count %d", len(subs))
	}

	for _, s := range subs {
		if s.Delay < r.MinDelay || s.Delay > r.MaxDelay {
			t.Errorf("delay %v outside [%v, %v]", s.Delay, r.MinDelay, r.MaxDelay)
		}
		if s.Tag < 0 || s.Tag > 3 {
			t.Errorf("tag %v outside configured tags", s.Tag)
		}
	}
}

func TestSubscriptions_FromConfig(t *testing.T) {
	cfg := config.Default()
	subs := Subscriptions(cfg, NewRand(1))

	if len(subs) != len(cfg.Subscriptions) {
		t.Fatalf("expected %d subscriptions, got %d", len(cfg.Subscriptions), len(subs))
	}
	if subs[3].Listener != "t2" || subs[3].Tag != 2 || subs[3].Delay != 2*time.Second {
		t.Errorf("unexpected conversion: %+v", subs[3])
	}
}

func TestTags_DistinctAscending(t *testing.T) {
	schedule := Schedule{{Tag: 5}, {Tag: 2}, {Tag: 5}}
	subs := []Subscription{{Tag: 9}, {Tag: 2}}

	got := Tags(schedule, subs)
	want := []telegraph.Tag{2, 5, 9}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}

func TestResolveSeed(t *testing.T) {
	// WHAT: A zero seed resolves to a concrete, non-zero one
	// WHY: The resolved seed is logged and stored so the run can be replayed

	if got := ResolveSeed(42); got != 42 {
		t.Errorf("explicit seed changed: %d", got)
	}

	seed := ResolveSeed(0)
	if seed == 0 {
		t.Fatal("expected a non-zero resolved seed")
	}

	cfg := config.WorkloadConfig{Duration: time.Second, Interval: 10 * time.Millisecond, Tags: []int{1, 2, 3}}
	a := Generate(cfg, NewRand(seed))
	b := Generate(cfg, NewRand(seed))
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("replay diverges at %d", i)
		}
	}
}
