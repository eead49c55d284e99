package voice

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGuild = "guild-1"

// waitOpens blocks until the factory has opened n sources.
func waitOpens(t *testing.T, factory *fakeFactory, n int) []openRecord {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(factory.opens()) >= n
	}, time.Second, 5*time.Millisecond)
	return factory.opens()
}

// waitIdle blocks until the guild's playback loop has exited.
func waitIdle(t *testing.T, svc *Service, guildID string) {
	t.Helper()
	st := svc.state(guildID)
	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return !st.loopRunning
	}, time.Second, 5*time.Millisecond)
}

func TestQueueSoundPlaysImmediatelyWhenIdle(t *testing.T) {
	svc, transport, factory, _ := newTestService()

	rep := svc.QueueSound(testGuild, Request{Source: "/sounds/intro.opus", Label: "intro"}, false)
	require.True(t, rep.OK)
	assert.Contains(t, rep.Message, "Playing **intro**")

	opens := waitOpens(t, factory, 1)
	assert.Equal(t, "/sounds/intro.opus", opens[0].ref)
	assert.Equal(t, time.Duration(0), opens[0].offset)

	require.Eventually(t, func() bool { return svc.IsPlaying(testGuild) }, time.Second, 5*time.Millisecond)
	current, ok := svc.Current(testGuild)
	require.True(t, ok)
	assert.Equal(t, "intro", current.Label)

	transport.last().finish()
	waitIdle(t, svc, testGuild)
	_, ok = svc.Current(testGuild)
	assert.False(t, ok)
}

func TestQueueSoundFIFOOrder(t *testing.T) {
	svc, transport, factory, _ := newTestService()

	svc.QueueSound(testGuild, Request{Source: "a", Label: "a"}, false)
	waitOpens(t, factory, 1)

	repB := svc.QueueSound(testGuild, Request{Source: "b", Label: "b"}, false)
	require.True(t, repB.OK)
	assert.Contains(t, repB.Message, "position 1")
	repC := svc.QueueSound(testGuild, Request{Source: "c", Label: "c"}, false)
	assert.Contains(t, repC.Message, "position 2")

	transport.last().finish()
	waitOpens(t, factory, 2)
	transport.last().finish()
	opens := waitOpens(t, factory, 3)

	refs := []string{opens[0].ref, opens[1].ref, opens[2].ref}
	assert.Equal(t, []string{"a", "b", "c"}, refs)
}

func TestPlayNextJumpsQueue(t *testing.T) {
	svc, transport, factory, _ := newTestService()

	svc.QueueSound(testGuild, Request{Source: "a", Label: "a"}, false)
	waitOpens(t, factory, 1)
	svc.QueueSound(testGuild, Request{Source: "b", Label: "b"}, false)

	rep := svc.QueueSound(testGuild, Request{Source: "c", Label: "c"}, true)
	require.True(t, rep.OK)
	assert.Contains(t, rep.Message, "position 1")

	transport.last().finish()
	waitOpens(t, factory, 2)
	transport.last().finish()
	opens := waitOpens(t, factory, 3)

	assert.Equal(t, "c", opens[1].ref)
	assert.Equal(t, "b", opens[2].ref)
}

func TestSkipAdvancesToNext(t *testing.T) {
	svc, transport, factory, _ := newTestService()

	svc.QueueSound(testGuild, Request{Source: "x", Label: "x"}, false)
	waitOpens(t, factory, 1)
	svc.QueueSound(testGuild, Request{Source: "y", Label: "y"}, false)
	require.Len(t, svc.Queue(testGuild), 1)

	rep := svc.Skip(testGuild)
	require.True(t, rep.OK)
	assert.Contains(t, rep.Message, "Skipped **x**")

	opens := waitOpens(t, factory, 2)
	assert.Equal(t, "y", opens[1].ref)
	assert.Empty(t, svc.Queue(testGuild))

	transport.last().finish()
	waitIdle(t, svc, testGuild)
}

func TestSkipWhenIdleFails(t *testing.T) {
	svc, _, _, _ := newTestService()

	rep := svc.Skip(testGuild)
	assert.False(t, rep.OK)
	assert.Equal(t, "Nothing is playing or queued", rep.Message)
}

func TestStopClearsQueue(t *testing.T) {
	svc, _, factory, _ := newTestService()

	svc.QueueSound(testGuild, Request{Source: "x", Label: "x"}, false)
	waitOpens(t, factory, 1)
	svc.QueueSound(testGuild, Request{Source: "y", Label: "y"}, false)
	svc.QueueSound(testGuild, Request{Source: "z", Label: "z"}, false)

	rep := svc.Stop(testGuild)
	require.True(t, rep.OK)
	assert.Contains(t, rep.Message, "cleared 2 queued sounds")

	waitIdle(t, svc, testGuild)
	assert.Empty(t, svc.Queue(testGuild))
	_, ok := svc.Current(testGuild)
	assert.False(t, ok)
	assert.False(t, svc.IsPaused(testGuild))

	// Nothing further should have been opened after the stop.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, factory.opens(), 1)
}

func TestPauseTwiceSecondFails(t *testing.T) {
	svc, transport, factory, _ := newTestService()

	svc.QueueSound(testGuild, Request{Source: "x", Label: "x"}, false)
	waitOpens(t, factory, 1)
	require.Eventually(t, func() bool { return svc.IsPlaying(testGuild) }, time.Second, 5*time.Millisecond)

	first := svc.Pause(testGuild)
	require.True(t, first.OK)
	assert.Contains(t, first.Message, "Paused **x**")
	assert.True(t, svc.IsPaused(testGuild))

	second := svc.Pause(testGuild)
	assert.False(t, second.OK)
	assert.Equal(t, "Already paused", second.Message)
	assert.True(t, svc.IsPaused(testGuild))
	assert.True(t, transport.last().Paused())
}

func TestPauseResumeRoundTrip(t *testing.T) {
	svc, _, factory, _ := newTestService()

	svc.QueueSound(testGuild, Request{Source: "x", Label: "x"}, false)
	waitOpens(t, factory, 1)
	require.Eventually(t, func() bool { return svc.IsPlaying(testGuild) }, time.Second, 5*time.Millisecond)

	require.True(t, svc.Pause(testGuild).OK)
	assert.False(t, svc.IsPlaying(testGuild))

	rep := svc.Resume(testGuild)
	require.True(t, rep.OK)
	assert.Contains(t, rep.Message, "Resumed **x**")
	assert.False(t, svc.IsPaused(testGuild))
	assert.True(t, svc.IsPlaying(testGuild))
}

func TestResumeWhenNotPausedFails(t *testing.T) {
	svc, _, factory, _ := newTestService()

	svc.QueueSound(testGuild, Request{Source: "x", Label: "x"}, false)
	waitOpens(t, factory, 1)

	rep := svc.Resume(testGuild)
	assert.False(t, rep.OK)
	assert.Equal(t, "Not paused", rep.Message)
}

func TestPlayNowInterruptsAndRequeuesCurrent(t *testing.T) {
	svc, transport, factory, _ := newTestService()

	svc.QueueSound(testGuild, Request{Source: "x", Label: "x"}, false)
	waitOpens(t, factory, 1)
	require.Eventually(t, func() bool { return svc.IsPlaying(testGuild) }, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)

	rep := svc.PlayNow(testGuild, Request{Source: "z", Label: "z"})
	require.True(t, rep.OK)
	assert.Contains(t, rep.Message, "Playing **z**")
	assert.Contains(t, rep.Message, "now")

	// z plays immediately, from the start.
	opens := waitOpens(t, factory, 2)
	assert.Equal(t, "z", opens[1].ref)
	assert.Equal(t, time.Duration(0), opens[1].offset)

	// x sits at the queue front with its elapsed time recorded.
	queue := svc.Queue(testGuild)
	require.Len(t, queue, 1)
	assert.Equal(t, "x", queue[0].Label)
	assert.GreaterOrEqual(t, queue[0].ResumeOffset, 40*time.Millisecond)
	assert.Less(t, queue[0].ResumeOffset, 5*time.Second)
	savedOffset := queue[0].ResumeOffset

	// When z finishes, x resumes from the recorded offset, not from zero.
	transport.last().finish()
	opens = waitOpens(t, factory, 3)
	assert.Equal(t, "x", opens[2].ref)
	assert.Equal(t, savedOffset, opens[2].offset)
}

func TestInterruptResumeAccumulatesOffset(t *testing.T) {
	svc, transport, factory, _ := newTestService()

	svc.QueueSound(testGuild, Request{Source: "x", Label: "x"}, false)
	waitOpens(t, factory, 1)
	require.Eventually(t, func() bool { return svc.IsPlaying(testGuild) }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	svc.PlayNow(testGuild, Request{Source: "y", Label: "y"})
	waitOpens(t, factory, 2)
	first := svc.Queue(testGuild)[0].ResumeOffset
	assert.GreaterOrEqual(t, first, 40*time.Millisecond)

	transport.last().finish()
	opens := waitOpens(t, factory, 3)
	require.Equal(t, "x", opens[2].ref)
	require.Eventually(t, func() bool { return svc.IsPlaying(testGuild) }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	svc.PlayNow(testGuild, Request{Source: "z", Label: "z"})
	waitOpens(t, factory, 4)
	second := svc.Queue(testGuild)[0].ResumeOffset

	assert.Greater(t, second, first)
	assert.GreaterOrEqual(t, second-first, 40*time.Millisecond)
	assert.Less(t, second-first, 5*time.Second)

	transport.last().finish()
	opens = waitOpens(t, factory, 5)
	assert.Equal(t, "x", opens[4].ref)
	assert.Equal(t, second, opens[4].offset)
}

func TestPlayNowThenStopAbandonsInterruptedItem(t *testing.T) {
	svc, _, factory, _ := newTestService()

	svc.QueueSound(testGuild, Request{Source: "x", Label: "x"}, false)
	waitOpens(t, factory, 1)
	require.Eventually(t, func() bool { return svc.IsPlaying(testGuild) }, time.Second, 5*time.Millisecond)

	svc.PlayNow(testGuild, Request{Source: "z", Label: "z"})
	svc.Stop(testGuild)

	waitIdle(t, svc, testGuild)
	assert.Empty(t, svc.Queue(testGuild))
	_, ok := svc.Current(testGuild)
	assert.False(t, ok)

	// x must not come back after the stop.
	time.Sleep(50 * time.Millisecond)
	countX := 0
	for _, open := range factory.opens() {
		if open.ref == "x" {
			countX++
		}
	}
	assert.Equal(t, 1, countX)
}

func TestPlayNowWhilePausedKeepsCurrent(t *testing.T) {
	svc, transport, factory, _ := newTestService()

	svc.QueueSound(testGuild, Request{Source: "x", Label: "x"}, false)
	waitOpens(t, factory, 1)
	require.True(t, svc.Pause(testGuild).OK)

	rep := svc.PlayNow(testGuild, Request{Source: "z", Label: "z"})
	require.True(t, rep.OK)

	// The paused item stays current with no offset accounting; the new
	// item waits at the front of the queue.
	assert.True(t, svc.IsPaused(testGuild))
	current, ok := svc.Current(testGuild)
	require.True(t, ok)
	assert.Equal(t, "x", current.Label)
	assert.Equal(t, time.Duration(0), current.ResumeOffset)
	queue := svc.Queue(testGuild)
	require.Len(t, queue, 1)
	assert.Equal(t, "z", queue[0].Label)
	assert.Len(t, factory.opens(), 1)

	rep = svc.Resume(testGuild)
	require.True(t, rep.OK)
	assert.Contains(t, rep.Message, "Resumed **x**")

	transport.last().finish()
	opens := waitOpens(t, factory, 2)
	assert.Equal(t, "z", opens[1].ref)
}

func TestPlayNowWhenIdleStartsPlayback(t *testing.T) {
	svc, _, factory, _ := newTestService()

	rep := svc.PlayNow(testGuild, Request{Source: "z", Label: "z"})
	require.True(t, rep.OK)

	opens := waitOpens(t, factory, 1)
	assert.Equal(t, "z", opens[0].ref)
}

func TestResumeRestartsLoopAfterHaltWhilePaused(t *testing.T) {
	svc, transport, factory, _ := newTestService()

	svc.QueueSound(testGuild, Request{Source: "x", Label: "x"}, false)
	waitOpens(t, factory, 1)
	require.Eventually(t, func() bool { return svc.IsPlaying(testGuild) }, time.Second, 5*time.Millisecond)
	require.True(t, svc.Pause(testGuild).OK)

	// The transport ends the stream while paused; the loop halts without
	// advancing and leaves pause state behind.
	transport.last().Stop()
	waitIdle(t, svc, testGuild)
	assert.True(t, svc.IsPaused(testGuild))

	rep := svc.QueueSound(testGuild, Request{Source: "y", Label: "y"}, false)
	require.True(t, rep.OK)
	assert.Contains(t, rep.Message, "Queued **y**")

	resume := svc.Resume(testGuild)
	require.True(t, resume.OK)
	assert.Equal(t, "Resumed queue playback", resume.Message)

	opens := waitOpens(t, factory, 2)
	assert.Equal(t, "y", opens[1].ref)
}

func TestConnectionFailureDropsItem(t *testing.T) {
	svc, transport, factory, _ := newTestService()
	transport.setFail(true)

	svc.QueueSound(testGuild, Request{Source: "x", Label: "x"}, false)
	waitIdle(t, svc, testGuild)
	assert.Empty(t, factory.opens())
	_, ok := svc.Current(testGuild)
	assert.False(t, ok)

	// The session recovers once connections succeed again.
	transport.setFail(false)
	svc.QueueSound(testGuild, Request{Source: "y", Label: "y"}, false)
	opens := waitOpens(t, factory, 1)
	assert.Equal(t, "y", opens[0].ref)
}

func TestMissingSourceDropsItemAndContinues(t *testing.T) {
	svc, _, factory, _ := newTestService()
	factory.missing["bad"] = true

	svc.QueueSound(testGuild, Request{Source: "bad", Label: "bad"}, false)
	svc.QueueSound(testGuild, Request{Source: "good", Label: "good"}, false)

	opens := waitOpens(t, factory, 1)
	assert.Equal(t, "good", opens[0].ref)
}

func TestDisconnectClearsStateAndJoinsLoop(t *testing.T) {
	svc, transport, factory, _ := newTestService()

	svc.QueueSound(testGuild, Request{Source: "x", Label: "x"}, false)
	waitOpens(t, factory, 1)
	svc.QueueSound(testGuild, Request{Source: "y", Label: "y"}, false)

	require.NoError(t, svc.Disconnect(testGuild))

	assert.True(t, transport.last().closed)
	assert.Empty(t, svc.Queue(testGuild))
	_, ok := svc.Current(testGuild)
	assert.False(t, ok)
	assert.False(t, svc.IsPlaying(testGuild))
	waitIdle(t, svc, testGuild)
}

func TestDisconnectAllCoversEveryGuild(t *testing.T) {
	svc, transport, factory, dir := newTestService()
	dir.setChannels("guild-2", Channel{
		ID:      "vc-other",
		Members: []Member{{ID: "user-9"}},
	})

	svc.QueueSound(testGuild, Request{Source: "x", Label: "x"}, false)
	waitOpens(t, factory, 1)
	svc.QueueSound("guild-2", Request{Source: "y", Label: "y"}, false)
	waitOpens(t, factory, 2)

	svc.DisconnectAll()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.conns, 2)
	for _, conn := range transport.conns {
		assert.True(t, conn.closed)
	}
}

func TestQueueWhilePausedDoesNotStartLoop(t *testing.T) {
	svc, _, factory, _ := newTestService()

	svc.QueueSound(testGuild, Request{Source: "x", Label: "x"}, false)
	waitOpens(t, factory, 1)
	require.Eventually(t, func() bool { return svc.IsPlaying(testGuild) }, time.Second, 5*time.Millisecond)
	require.True(t, svc.Pause(testGuild).OK)

	rep := svc.QueueSound(testGuild, Request{Source: "y", Label: "y"}, false)
	require.True(t, rep.OK)
	assert.Contains(t, rep.Message, "position 1")

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, factory.opens(), 1)
}

func TestConnectReusesAndMoves(t *testing.T) {
	svc, transport, _, _ := newTestService()

	require.True(t, svc.Connect(testGuild, "vc-general").OK)
	require.True(t, svc.Connect(testGuild, "vc-general").OK)

	transport.mu.Lock()
	count := len(transport.conns)
	transport.mu.Unlock()
	assert.Equal(t, 1, count)

	require.True(t, svc.Connect(testGuild, "vc-afk").OK)
	assert.Equal(t, []string{"vc-afk"}, transport.last().moves)
}

func TestConcurrentConnectDialsOnce(t *testing.T) {
	svc, transport, _, _ := newTestService()

	gate := make(chan struct{})
	transport.setGate(gate)

	var wg sync.WaitGroup
	replies := make([]Reply, 2)
	for i := range replies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replies[i] = svc.Connect(testGuild, "vc-general")
		}(i)
	}

	// Let both callers reach the connection manager before any dial can
	// complete, then release them.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for _, rep := range replies {
		require.True(t, rep.OK)
	}
	assert.Equal(t, 1, transport.dials())
	assert.False(t, transport.last().closed)
}
