package bwlimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterWaitTakesTime(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	kBps := 1 // 1024 bytes/sec
	bucket := 64
	l := New(kBps, bucket)

	n := 1024 // one full second worth, minus the initial bucket burst
	start := time.Now()
	if err := l.Wait(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	d := time.Since(start)
	if d < 500*time.Millisecond {
		t.Error("wait returned too quickly", d)
	}
}

func TestLimiterUnlimited(t *testing.T) {
	var l Limiter
	start := time.Now()
	if err := l.Wait(context.Background(), 10<<20); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("unlimited limiter should not block")
	}
}

func TestLimiterWaitTimeout(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	l := New(1, 1) // 1 kB/s (1024 bytes/sec), 1-byte bucket
	if err := l.WaitTimeout(1<<20, 50*time.Millisecond); err != ErrTimeout {
		t.Error("expected a timeout waiting for a huge request on a tiny budget")
	}
}

func TestLimiterWaitLargerThanBucket(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	l := New(1<<20, 64) // 1<<20 kB/s (1 GiB/s), 64 byte bucket
	if err := l.Wait(context.Background(), 256); err != nil {
		t.Fatal(err)
	}
}
