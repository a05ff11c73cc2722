package hsu

import (
	"testing"
	"time"
)

func TestGate_NestingTransitions(t *testing.T) {
	var g Gate
	if !g.open() {
		t.Fatal("first open should report 0->1")
	}
	if g.open() {
		t.Fatal("nested open reported a transition")
	}
	if g.close() {
		t.Fatal("inner close reported 1->0")
	}
	if !g.Accepting() {
		t.Fatal("gate closed after inner leave")
	}
	if !g.close() {
		t.Fatal("outer close should report 1->0")
	}
	if g.Accepting() {
		t.Fatal("gate still accepting after outer leave")
	}
}

func TestGate_UnbalancedLeavePanics(t *testing.T) {
	var g Gate
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unbalanced leave")
		}
	}()
	g.close()
}

func TestGate_WaitQuiescedTimesOut(t *testing.T) {
	var g Gate
	g.open()
	g.close()
	start := time.Now()
	if g.waitQuiesced(30 * time.Millisecond) {
		t.Fatal("waitQuiesced returned true without executor")
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("waitQuiesced returned before the timeout")
	}
}

func TestGate_WaitQuiescedObservesExecutor(t *testing.T) {
	var g Gate
	g.open()
	g.close()
	go func() {
		time.Sleep(10 * time.Millisecond)
		g.markQuiesced()
	}()
	if !g.waitQuiesced(time.Second) {
		t.Fatal("waitQuiesced missed markQuiesced")
	}
}
