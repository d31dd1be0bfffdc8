package schedule

import "testing"

func TestInitRunsOnceAtStart(t *testing.T) {
	s := New()
	inits := 0
	s.Register(func() { inits++ }, nil, 10)
	s.Start()
	s.Start() // idempotent: already-started tasks do not re-init.
	if inits != 1 {
		t.Fatalf("expected init to run exactly once, ran %d times", inits)
	}
}

func TestRunFiresAtPeriod(t *testing.T) {
	s := New()
	runs := 0
	s.Register(nil, func() { runs++ }, 100)
	s.Tick(40)
	s.Tick(40)
	if runs != 0 {
		t.Fatalf("expected no run before period elapsed, got %d", runs)
	}
	s.Tick(30) // total 110 >= 100
	if runs != 1 {
		t.Fatalf("expected exactly one run once period elapsed, got %d", runs)
	}
}

func TestRunResetsElapsedNotRemainder(t *testing.T) {
	s := New()
	runs := 0
	s.Register(nil, func() { runs++ }, 10)
	s.Tick(45) // four and a half periods' worth
	if runs != 1 {
		t.Fatalf("expected exactly one run per Tick regardless of overshoot, got %d", runs)
	}
	s.Tick(10)
	if runs != 2 {
		t.Fatalf("expected a second run on the next qualifying tick, got %d", runs)
	}
}

func TestCancelStopsFutureRuns(t *testing.T) {
	s := New()
	runs := 0
	h := s.Register(nil, func() { runs++ }, 10)
	s.Cancel(h)
	s.Tick(100)
	if runs != 0 {
		t.Fatalf("expected cancelled task not to run, got %d runs", runs)
	}
	s.Cancel(TaskHandle(999)) // stale handle is a no-op
}

func TestAfterFiresOnceWhenDelayElapses(t *testing.T) {
	s := New()
	fired := 0
	s.After(50, func() { fired++ })
	s.Tick(20)
	if fired != 0 {
		t.Fatalf("expected no fire before delay elapsed, got %d", fired)
	}
	s.Tick(30) // total 50
	if fired != 1 {
		t.Fatalf("expected fire once delay elapsed, got %d", fired)
	}
	s.Tick(1000)
	if fired != 1 {
		t.Fatalf("expected one-shot not to re-fire, got %d", fired)
	}
}

func TestMultipleTasksRunIndependently(t *testing.T) {
	s := New()
	var a, b int
	s.Register(nil, func() { a++ }, 10)
	s.Register(nil, func() { b++ }, 25)
	for i := 0; i < 25; i++ {
		s.Tick(1)
	}
	if a != 2 {
		t.Fatalf("expected task a to run twice in 25ms at period 10, got %d", a)
	}
	if b != 1 {
		t.Fatalf("expected task b to run once in 25ms at period 25, got %d", b)
	}
}
