package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// Recorder captures mono float32 audio from the default microphone.
type Recorder struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate uint32

	mu        sync.Mutex
	buf       []float32
	recording bool
}

// NewRecorder creates a recorder at the given sample rate. Call Close when done.
func NewRecorder(sampleRate uint32) (*Recorder, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: initializing capture context: %w", err)
	}
	return &Recorder{ctx: ctx, sampleRate: sampleRate}, nil
}

// SampleRate returns the capture rate.
func (r *Recorder) SampleRate() int {
	return int(r.sampleRate)
}

// Start begins capturing into an internal buffer.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return fmt.Errorf("audio: already recording")
	}
	r.buf = r.buf[:0]
	r.recording = true
	r.mu.Unlock()

	device, err := malgo.InitDevice(r.ctx.Context, r.deviceConfig(), malgo.DeviceCallbacks{Data: r.onData})
	if err != nil {
		r.setRecording(false)
		return fmt.Errorf("audio: initializing capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		r.setRecording(false)
		return fmt.Errorf("audio: starting capture device: %w", err)
	}

	r.mu.Lock()
	if !r.recording {
		// Stopped while the device was starting.
		r.mu.Unlock()
		device.Uninit()
		return nil
	}
	r.device = device
	r.mu.Unlock()
	return nil
}

// deviceConfig describes a mono float32 capture at the recorder's rate.
func (r *Recorder) deviceConfig() malgo.DeviceConfig {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = r.sampleRate
	return cfg
}

// Stop ends the capture and returns a copy of the recorded samples,
// or nil if no capture was running.
func (r *Recorder) Stop() []float32 {
	r.mu.Lock()
	wasRecording := r.recording
	r.mu.Unlock()
	if !wasRecording {
		return nil
	}

	r.release()

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float32, len(r.buf))
	copy(out, r.buf)
	return out
}

// release detaches the device and tears it down outside the lock: Uninit
// waits for the capture thread, which may be waiting on mu in onData.
func (r *Recorder) release() {
	r.mu.Lock()
	device := r.device
	r.device = nil
	r.recording = false
	r.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
}

// Record captures for d, or until ctx is cancelled, and returns the clip.
func (r *Recorder) Record(ctx context.Context, d time.Duration) (*Clip, error) {
	if err := r.Start(); err != nil {
		return nil, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		r.Stop()
		return nil, ctx.Err()
	}

	return &Clip{Samples: r.Stop(), SampleRate: int(r.sampleRate)}, nil
}

// IsRecording returns whether a capture is running.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Close releases the device and context.
func (r *Recorder) Close() error {
	r.release()

	if r.ctx != nil {
		if err := r.ctx.Uninit(); err != nil {
			return fmt.Errorf("audio: uninitializing capture context: %w", err)
		}
		r.ctx.Free()
	}
	return nil
}

func (r *Recorder) setRecording(v bool) {
	r.mu.Lock()
	r.recording = v
	r.mu.Unlock()
}

// onData is the malgo capture callback; pSample holds little-endian float32 frames.
func (r *Recorder) onData(_, pSample []byte, frameCount uint32) {
	samples := bytesToFloat32(pSample, frameCount)

	r.mu.Lock()
	if r.recording {
		r.buf = append(r.buf, samples...)
	}
	r.mu.Unlock()
}

// bytesToFloat32 converts little-endian float32 bytes into at most count samples.
func bytesToFloat32(data []byte, count uint32) []float32 {
	n := uint32(len(data) / 4)
	if count < n {
		n = count
	}
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}
