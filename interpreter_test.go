package machina

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock drives timers by explicit advancement.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now + d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.stopped = true
	return !t.fired
}

// Advance moves the clock forward, firing due timers in schedule order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

func TestInterpreterDeliversDelayedTransition(t *testing.T) {
	m := delayedLight(t)
	clock := &manualClock{}
	interp := NewInterpreter(m, WithClock[struct{}](clock))
	defer interp.Stop()

	_, err := interp.Start()
	require.NoError(t, err)
	_, err = interp.Send("TIMER")
	require.NoError(t, err)
	require.Equal(t, "yellow", interp.State().Value.String())

	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, "yellow", interp.State().Value.String())

	clock.Advance(time.Millisecond)
	assert.Equal(t, "red", interp.State().Value.String())
}

func TestInterpreterCancelsDelayOnExit(t *testing.T) {
	m := delayedLight(t)
	clock := &manualClock{}
	interp := NewInterpreter(m, WithClock[struct{}](clock))
	defer interp.Stop()

	_, err := interp.Start()
	require.NoError(t, err)
	_, err = interp.Send("TIMER")
	require.NoError(t, err)

	// Leave yellow before the delay elapses: the timer must be dropped.
	_, err = interp.Send("TIMER")
	require.NoError(t, err)
	require.Equal(t, "green", interp.State().Value.String())

	clock.Advance(2 * time.Second)
	assert.Equal(t, "green", interp.State().Value.String())
}

func TestInterpreterRunsActivities(t *testing.T) {
	var mu sync.Mutex
	var started, stopped int

	m, err := NewBuilder[struct{}]("beeper").
		WithInitial("quiet").
		WithActivity("beeping", func(ctx struct{}, e Event) func() {
			mu.Lock()
			started++
			mu.Unlock()
			return func() {
				mu.Lock()
				stopped++
				mu.Unlock()
			}
		}).
		State("quiet").On("BEEP").Target("beeping").Done().
		State("beeping").Activity("beeping").On("HUSH").Target("quiet").Done().
		Build()
	require.NoError(t, err)

	interp := NewInterpreter(m)
	defer interp.Stop()
	_, err = interp.Start()
	require.NoError(t, err)

	_, err = interp.Send("BEEP")
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, 1, started)
	assert.Equal(t, 0, stopped)
	mu.Unlock()

	_, err = interp.Send("HUSH")
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, 1, stopped)
	mu.Unlock()
}

func TestInterpreterInvokesServices(t *testing.T) {
	m, err := NewBuilder[struct{}]("fetcher").
		WithInitial("loading").
		WithService("fetchUser", func(ctx struct{}, e Event) (any, error) {
			return "ada", nil
		}).
		State("loading").
		Invoke("getUser", "fetchUser").
		On(DoneInvokeEvent("getUser")).Target("loaded").
		Done().
		State("loaded").Done().
		Build()
	require.NoError(t, err)

	interp := NewInterpreter(m)
	defer interp.Stop()
	_, err = interp.Start()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return interp.State().Value.String() == "loaded"
	}, time.Second, 5*time.Millisecond)
}

func TestInterpreterDeliversServiceErrors(t *testing.T) {
	m, err := NewBuilder[struct{}]("fetcher").
		WithInitial("loading").
		WithService("fetchUser", func(ctx struct{}, e Event) (any, error) {
			return nil, errors.New("connection refused")
		}).
		State("loading").
		Invoke("getUser", "fetchUser").
		On(ErrorPlatformEvent("getUser")).Target("failed").
		Done().
		State("failed").Done().
		Build()
	require.NoError(t, err)

	interp := NewInterpreter(m)
	defer interp.Stop()
	_, err = interp.Start()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return interp.State().Value.String() == "failed"
	}, time.Second, 5*time.Millisecond)
}

func TestInterpreterNotifiesListeners(t *testing.T) {
	m := lightMachine(t)
	interp := NewInterpreter(m)
	defer interp.Stop()

	var mu sync.Mutex
	var seen []string
	interp.OnTransition(func(s State[lightContext]) {
		mu.Lock()
		seen = append(seen, s.Value.String())
		mu.Unlock()
	})

	_, err := interp.Start()
	require.NoError(t, err)
	_, err = interp.Send("TIMER")
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []string{"green", "yellow"}, seen)
	mu.Unlock()
}

func TestInterpreterDoneOnFinalRoot(t *testing.T) {
	m, err := NewBuilder[struct{}]("oneshot").
		WithInitial("working").
		State("working").On("FINISH").Target("end").Done().
		State("end").Final().Done().
		Build()
	require.NoError(t, err)

	interp := NewInterpreter(m)
	defer interp.Stop()
	_, err = interp.Start()
	require.NoError(t, err)
	assert.False(t, interp.Done())

	_, err = interp.Send("FINISH")
	require.NoError(t, err)
	assert.True(t, interp.Done())
}

func TestStoppedInterpreterIgnoresSends(t *testing.T) {
	m := lightMachine(t)
	interp := NewInterpreter(m)
	_, err := interp.Start()
	require.NoError(t, err)
	interp.Stop()

	state, err := interp.Send("TIMER")
	require.NoError(t, err)
	assert.Equal(t, "green", state.Value.String())
}
