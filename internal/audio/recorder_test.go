package audio

import (
	"context"
	"testing"
	"time"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := NewRecorder(16000)
	if err != nil {
		t.Skipf("no audio backend available: %v", err)
	}
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return r
}

func TestNewRecorder(t *testing.T) {
	r := newTestRecorder(t)
	if r.SampleRate() != 16000 {
		t.Errorf("SampleRate() = %d, want 16000", r.SampleRate())
	}
	if r.IsRecording() {
		t.Error("IsRecording() should be false after creation")
	}
}

func TestStopWithoutStart(t *testing.T) {
	r := newTestRecorder(t)
	if samples := r.Stop(); samples != nil {
		t.Errorf("Stop() without Start() should return nil, got %d samples", len(samples))
	}
}

func TestRecordReturnsAfterDuration(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start(); err != nil {
		t.Skipf("no capture device available: %v", err)
	}
	r.Stop()

	done := make(chan error, 1)
	go func() {
		clip, err := r.Record(context.Background(), 200*time.Millisecond)
		if err == nil && clip.SampleRate != 16000 {
			t.Errorf("clip.SampleRate = %d, want 16000", clip.SampleRate)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Record() did not return; capture teardown is blocked")
	}
	if r.IsRecording() {
		t.Error("IsRecording() should be false after Record()")
	}
}

func TestRecordCancelled(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start(); err != nil {
		t.Skipf("no capture device available: %v", err)
	}
	r.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := r.Record(ctx, time.Minute)
		done <- err
	}()

	select {
	case err := <-done:
		if err != context.DeadlineExceeded {
			t.Errorf("Record() error = %v, want %v", err, context.DeadlineExceeded)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Record() did not return after cancellation")
	}
}

func TestBytesToFloat32(t *testing.T) {
	// 0.0 = 0x00000000, -1.0 = 0xBF800000, 1.0 = 0x3F800000
	data := []byte{
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x80, 0xBF,
		0x00, 0x00, 0x80, 0x3F,
	}
	samples := bytesToFloat32(data, 3)

	want := []float32{0, -1, 1}
	if len(samples) != len(want) {
		t.Fatalf("bytesToFloat32() returned %d samples, want %d", len(samples), len(want))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("samples[%d] = %f, want %f", i, samples[i], want[i])
		}
	}
}

func TestBytesToFloat32ShortBuffer(t *testing.T) {
	data := []byte{0x00, 0x00, 0x80, 0x3F, 0x00, 0x00}
	samples := bytesToFloat32(data, 2)
	if len(samples) != 1 {
		t.Fatalf("bytesToFloat32() returned %d samples, want 1", len(samples))
	}
	if samples[0] != 1.0 {
		t.Errorf("samples[0] = %f, want 1.0", samples[0])
	}
}
