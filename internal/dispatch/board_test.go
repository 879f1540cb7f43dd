package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

func testPolicy(globalCap int, caps map[string]int) ClaimPolicy {
	return ClaimPolicy{
		GlobalCap: globalCap,
		CapFor: func(domain string) int {
			if cap, ok := caps[domain]; ok {
				return cap
			}
			return 2
		},
	}
}

func entry(id, domain string) grab.QueueEntry {
	return grab.QueueEntry{
		Job:             grab.Job{URL: "https://" + domain + "/" + id, ID: id, Media: grab.MediaImage, Strategy: grab.StrategyDirect},
		EffectiveDomain: domain,
		SourceURL:       "https://source.example/feed",
	}
}

func TestBoard_ClaimRespectsGlobalCap(t *testing.T) {
	t.Parallel()

	b := NewBoard()
	b.RegisterSource("https://source.example/feed")
	b.Enqueue(entry("a", "one.com"))
	b.Enqueue(entry("b", "two.com"))

	policy := testPolicy(1, nil)
	_, result := b.Claim(policy)
	require.Equal(t, Claimed, result)

	_, result = b.Claim(policy)
	require.Equal(t, BlockedGlobal, result)
}

func TestBoard_ClaimSkipsDomainsAtCap(t *testing.T) {
	t.Parallel()

	b := NewBoard()
	b.RegisterSource("https://source.example/feed")
	b.Enqueue(entry("a1", "capped.com"))
	b.Enqueue(entry("a2", "capped.com"))
	b.Enqueue(entry("b1", "open.com"))

	policy := testPolicy(10, map[string]int{"capped.com": 1})

	first, result := b.Claim(policy)
	require.Equal(t, Claimed, result)
	require.Equal(t, "capped.com", first.EffectiveDomain)

	// capped.com is at cap; scan-order-first-eligible jumps over a2 to b1.
	second, result := b.Claim(policy)
	require.Equal(t, Claimed, result)
	require.Equal(t, "open.com", second.EffectiveDomain)

	_, result = b.Claim(policy)
	require.Equal(t, BlockedNone, result)

	// Releasing the first claim frees capped.com for a2.
	b.Finish(first, grab.OutcomeCompleted)
	third, result := b.Claim(policy)
	require.Equal(t, Claimed, result)
	require.Equal(t, "a2", third.Job.ID)
}

func TestBoard_ExemptEntriesBypassDomainCap(t *testing.T) {
	t.Parallel()

	b := NewBoard()
	b.RegisterSource("https://source.example/feed")
	for i := 0; i < 4; i++ {
		b.Enqueue(entry(string(rune('a'+i)), "legacy.com"))
	}

	policy := testPolicy(10, map[string]int{"legacy.com": 1})
	policy.Exempt = func(e grab.QueueEntry) bool {
		return e.EffectiveDomain == "legacy.com" && e.Job.Media == grab.MediaImage
	}

	for i := 0; i < 4; i++ {
		_, result := b.Claim(policy)
		require.Equal(t, Claimed, result)
	}
	require.Equal(t, 4, b.ActiveFor("legacy.com"))
}

func TestBoard_SourceCompletionFiresOnce(t *testing.T) {
	t.Parallel()

	const src = "https://source.example/feed"
	b := NewBoard()
	b.RegisterSource(src)
	e1 := entry("a", "one.com")
	e2 := entry("b", "one.com")
	b.Enqueue(e1)
	b.Enqueue(e2)

	// Scan finishes while jobs are still outstanding.
	require.False(t, b.ScanDone(src))

	policy := testPolicy(10, nil)
	c1, _ := b.Claim(policy)
	c2, _ := b.Claim(policy)

	require.False(t, b.Finish(c1, grab.OutcomeCompleted))
	require.True(t, b.Finish(c2, grab.OutcomeFailed))

	counts := b.Snapshot()
	require.Equal(t, 1, counts.SourcesCompleted)
	require.Equal(t, 1, counts.JobsCompleted)
	require.Equal(t, 1, counts.JobsFailed)
	require.Zero(t, counts.JobsActive)
}

func TestBoard_EmptySourceCompletesAtScanDone(t *testing.T) {
	t.Parallel()

	const src = "https://source.example/empty"
	b := NewBoard()
	b.RegisterSource(src)
	require.True(t, b.ScanDone(src))
	require.Equal(t, 1, b.Snapshot().SourcesCompleted)
}

func TestBoard_ClearEmptiesQueue(t *testing.T) {
	t.Parallel()

	b := NewBoard()
	b.RegisterSource("https://source.example/feed")
	b.Enqueue(entry("a", "one.com"))
	b.Enqueue(entry("b", "two.com"))
	require.Equal(t, 2, b.QueueLen())

	b.Clear()
	require.Zero(t, b.QueueLen())
	require.True(t, b.Drained())
	_, result := b.Claim(testPolicy(10, nil))
	require.Equal(t, BlockedNone, result)
}
