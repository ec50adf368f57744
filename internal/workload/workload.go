// Package workload builds the message schedules and subscription sets that the
// bench runner replays against each engine.
//
// Every engine in one run sees the same schedule, so a seeded random source
// is drawn once here and never inside the runner.
package workload

import (
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/config"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/telegraph"
)

// Message is one scheduled dispatch, relative to the start of the run.
type Message struct {
	At  time.Duration
	Tag telegraph.Tag
}

// Schedule is a list of messages ordered by At.
type Schedule []Message

// End returns the offset of the last message, or zero for an empty schedule.
func (s Schedule) End() time.Duration {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].At
}

// CountByTag returns how many messages each tag receives.
func (s Schedule) CountByTag() map[telegraph.Tag]int {
	out := make(map[telegraph.Tag]int)
	for _, m := range s {
		out[m.Tag]++
	}
	return out
}

// Subscription is one listener registration for a run.
type Subscription struct {
	Listener string
	Tag      telegraph.Tag
	Delay    time.Duration
}

// ResolveSeed returns seed, or a clock-derived seed when seed is zero. Log
// and store the resolved value so the run can be replayed.
func ResolveSeed(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	if seed = time.Now().UnixNano(); seed == 0 {
		seed = 1
	}
	return seed
}

// NewRand returns the random source for seed; zero seeds from the clock.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(ResolveSeed(seed)))
}

// Generate emits one message every cfg.Interval for cfg.Duration, starting at
// zero, each on a tag picked uniformly from cfg.Tags.
func Generate(cfg config.WorkloadConfig, rng *rand.Rand) Schedule {
	if cfg.Interval <= 0 || len(cfg.Tags) == 0 {
		return nil
	}

	n := int((cfg.Duration + cfg.Interval - 1) / cfg.Interval)
	out := make(Schedule, 0, n)
	for at := time.Duration(0); at < cfg.Duration; at += cfg.Interval {
		tag := cfg.Tags[rng.Intn(len(cfg.Tags))]
		out = append(out, Message{At: at, Tag: telegraph.Tag(tag)})
	}
	return out
}

// Subscriptions converts configured subscriptions, or generates random ones
// when cfg.Workload.Random is set.
func Subscriptions(cfg *config.Config, rng *rand.Rand) []Subscription {
	if cfg.Workload.Random != nil {
		return RandomSubscriptions(*cfg.Workload.Random, cfg.Workload.Tags, rng)
	}

	out := make([]Subscription, len(cfg.Subscriptions))
	for i, s := range cfg.Subscriptions {
		out[i] = Subscription{Listener: s.Listener, Tag: telegraph.Tag(s.Tag), Delay: s.Delay}
	}
	return out
}

// RandomSubscriptions gives each of r.Listeners listeners between zero and
// r.MaxSubscriptions subscriptions on random tags, with delays drawn uniformly
// from [r.MinDelay, r.MaxDelay] at millisecond resolution. A listener that
// draws the same tag twice keeps the last delay, as AddListener would.
func RandomSubscriptions(r config.RandomSubscriptions, tags []int, rng *rand.Rand) []Subscription {
	if len(tags) == 0 || r.Listeners <= 0 {
		return nil
	}

	minMs := int64(r.MinDelay / time.Millisecond)
	spanMs := int64((r.MaxDelay-r.MinDelay)/time.Millisecond) + 1

	var out []Subscription
	for i := 0; i < r.Listeners; i++ {
		name := fmt.Sprintf("l%d", i)
		subs := rng.Intn(r.MaxSubscriptions + 1)
		for s := 0; s < subs; s++ {
			tag := tags[rng.Intn(len(tags))]
			delay := time.Duration(minMs+rng.Int63n(spanMs)) * time.Millisecond
			out = append(out, Subscription{Listener: name, Tag: telegraph.Tag(tag), Delay: delay})
		}
	}
	return out
}

// Tags returns the distinct tags used by subs and schedule, ascending.
func Tags(schedule Schedule, subs []Subscription) []telegraph.Tag {
	seen := make(map[telegraph.Tag]struct{})
	for _, m := range schedule {
		seen[m.Tag] = struct{}{}
	}
	for _, s := range subs {
		seen[s.Tag] = struct{}{}
	}

	out := make([]telegraph.Tag, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}
