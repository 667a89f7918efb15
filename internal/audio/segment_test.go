package audio

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// sine returns seconds of a 440Hz tone at rate.
func sine(seconds float64, rate int) []float32 {
	n := int(seconds * float64(rate))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return out
}

func TestSegmentCount(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		rate     int
		seconds  int
		want     int
	}{
		{"exact multiple", 9, 8000, 3, 3},
		{"partial tail dropped", 10.5, 8000, 3, 3},
		{"shorter than one segment", 2.9, 8000, 3, 0},
		{"one second split", 4, 16000, 1, 4},
		{"cd rate", 7, 44100, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := sine(tt.duration, tt.rate)
			segs := Segment(samples, tt.rate, tt.seconds)
			if len(segs) != tt.want {
				t.Fatalf("Segment() = %d segments, want %d", len(segs), tt.want)
			}
			total := 0
			for i, s := range segs {
				if len(s) != tt.seconds*tt.rate {
					t.Errorf("segment %d has %d samples, want %d", i, len(s), tt.seconds*tt.rate)
				}
				total += len(s)
			}
			if total != tt.want*tt.seconds*tt.rate {
				t.Errorf("total samples = %d, want %d", total, tt.want*tt.seconds*tt.rate)
			}
		})
	}
}

func TestSegmentContiguous(t *testing.T) {
	samples := make([]float32, 10)
	for i := range samples {
		samples[i] = float32(i)
	}
	segs := Segment(samples, 2, 2)
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0][0] != 0 || segs[1][0] != 4 || segs[1][3] != 7 {
		t.Errorf("segments not contiguous: %v", segs)
	}
}

func TestSegmentName(t *testing.T) {
	if got := SegmentName("A_XC123", 2, 5); got != "splitted_A_XC123_2_of_5.wav" {
		t.Errorf("SegmentName() = %q", got)
	}
	if !IsSegment("/x/y/splitted_A_XC123_2_of_5.wav") {
		t.Error("IsSegment() should be true for a segment path")
	}
	if IsSegment("/x/splitted/A_XC123.mp3") {
		t.Error("IsSegment() should only look at the base name")
	}
}

func TestSegmentBase(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"A_XC1-song.wav", "A_XC1-song"},
		{"/rec/Fringilla_coelebs/B_XC2.mp3", "B_XC2"},
		{"C_XC3 v1.2.mp3", "C_XC3 v1"},
		{"D_XC4", "D_XC4"},
		{".hidden", ".hidden"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			if got := SegmentBase(tt.file); got != tt.want {
				t.Errorf("SegmentBase(%q) = %q, want %q", tt.file, got, tt.want)
			}
		})
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestSplitFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "A_XC1.wav")
	const rate = 8000
	if err := WriteWAV(src, sine(7.5, rate), rate); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}

	n, err := SplitFile(src, dir, "A_XC1", SplitOptions{Seconds: 3})
	if err != nil {
		t.Fatalf("SplitFile() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("SplitFile() = %d segments, want 2", n)
	}

	want := []string{"A_XC1.wav", "splitted_A_XC1_1_of_2.wav", "splitted_A_XC1_2_of_2.wav"}
	got := listDir(t, dir)
	if len(got) != len(want) {
		t.Fatalf("dir = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dir[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	for _, name := range want[1:] {
		clip, err := Decode(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", name, err)
		}
		if clip.SampleRate != rate {
			t.Errorf("%s rate = %d, want %d", name, clip.SampleRate, rate)
		}
		if len(clip.Samples) != 3*rate {
			t.Errorf("%s has %d samples, want %d", name, len(clip.Samples), 3*rate)
		}
	}
}

func TestSplitFileIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "B_XC2.wav")
	if err := WriteWAV(src, sine(6, 8000), 8000); err != nil {
		t.Fatal(err)
	}

	if _, err := SplitFile(src, dir, "B_XC2", SplitOptions{Seconds: 3}); err != nil {
		t.Fatal(err)
	}
	before := listDir(t, dir)
	seg := filepath.Join(dir, before[1])
	info, err := os.Stat(seg)
	if err != nil {
		t.Fatal(err)
	}

	n, err := SplitFile(src, dir, "B_XC2", SplitOptions{Seconds: 3})
	if err != nil {
		t.Fatalf("second SplitFile() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second SplitFile() wrote %d segments, want 0", n)
	}
	after := listDir(t, dir)
	if len(after) != len(before) {
		t.Errorf("dir changed: %v -> %v", before, after)
	}
	info2, err := os.Stat(seg)
	if err != nil {
		t.Fatal(err)
	}
	if !info2.ModTime().Equal(info.ModTime()) {
		t.Error("existing segment was rewritten")
	}
}

func TestSplitFileSkipsSegments(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "splitted_C_XC3_1_of_1.wav")
	if err := WriteWAV(src, sine(6, 8000), 8000); err != nil {
		t.Fatal(err)
	}

	n, err := SplitFile(src, dir, "splitted_C_XC3_1_of_1", SplitOptions{Seconds: 3})
	if err != nil {
		t.Fatalf("SplitFile() error = %v", err)
	}
	if n != 0 {
		t.Errorf("SplitFile() on a segment wrote %d files, want 0", n)
	}
	if got := listDir(t, dir); len(got) != 1 {
		t.Errorf("dir = %v, want only the source", got)
	}
}

func TestSplitFileResamples(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "D_XC4.wav")
	if err := WriteWAV(src, sine(3.2, 32000), 32000); err != nil {
		t.Fatal(err)
	}

	n, err := SplitFile(src, dir, "D_XC4", SplitOptions{Seconds: 1, SampleRate: 16000})
	if err != nil {
		t.Fatalf("SplitFile() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("SplitFile() = %d segments, want 3", n)
	}
	clip, err := Decode(filepath.Join(dir, SegmentName("D_XC4", 1, 3)))
	if err != nil {
		t.Fatal(err)
	}
	if clip.SampleRate != 16000 || len(clip.Samples) != 16000 {
		t.Errorf("segment = %d samples at %dHz, want 16000 at 16000Hz", len(clip.Samples), clip.SampleRate)
	}
}

func TestDecodeUnsupported(t *testing.T) {
	_, err := Decode("recording.flac")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Decode(.flac) error = %v, want ErrUnsupportedFormat", err)
	}
	if Supported("x.ogg") || !Supported("x.MP3") || !Supported("x.wav") {
		t.Error("Supported() mismatch")
	}
}

func TestReadPCM16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pcm.wav")
	if err := WriteWAV(path, []float32{0, 0.5, -1, 1, 2}, 16000); err != nil {
		t.Fatal(err)
	}

	got, rate, err := ReadPCM16(path)
	if err != nil {
		t.Fatalf("ReadPCM16() error = %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate = %d, want 16000", rate)
	}
	want := []float32{0, 16384, -32767, 32767, 32767} // 2.0 is clipped
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	in := []float32{0, 1, 2, 3, 4, 5, 6, 7}
	out := Resample(in, 8, 4)
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	for i, want := range []float32{0, 2, 4, 6} {
		if out[i] != want {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want)
		}
	}

	up := Resample([]float32{0, 2}, 1, 2)
	if len(up) != 4 || up[1] != 1 {
		t.Errorf("upsample = %v, want [0 1 2 2]", up)
	}
	if same := Resample(in, 8, 8); len(same) != len(in) {
		t.Error("equal rates should return input unchanged")
	}
}
