package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chaz8081/chirpnet/internal/audio"
)

// makeTree writes n tiny segments per class folder plus one source file
// per folder, which must be ignored.
func makeTree(t *testing.T, counts map[string]int, samples int) string {
	t.Helper()
	root := t.TempDir()
	for class, n := range counts {
		dir := filepath.Join(root, class)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "A_XC1.mp3"), []byte("not audio"), 0644); err != nil {
			t.Fatal(err)
		}
		data := make([]float32, samples)
		for i := range data {
			data[i] = 0.25
		}
		for i := 0; i < n; i++ {
			name := audio.SegmentName(fmt.Sprintf("A_XC%d", i), 1, 1)
			if err := audio.WriteWAV(filepath.Join(dir, name), data, 8000); err != nil {
				t.Fatal(err)
			}
		}
	}
	return root
}

func TestSoundFilesOnlySegments(t *testing.T) {
	root := makeTree(t, map[string]int{"Fringilla_coelebs": 3, "Sterna_hirundo": 2}, 4)
	if err := os.WriteFile(filepath.Join(root, "testing_list.txt"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	files, err := SoundFiles(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 5 {
		t.Fatalf("SoundFiles() returned %d files, want 5", len(files))
	}
	for _, f := range files {
		if !audio.IsSegment(f) {
			t.Errorf("non-segment file %q returned", f)
		}
	}
}

func TestCreateTestFile(t *testing.T) {
	classes := map[string]int{"Fringilla_coelebs": 40, "Sterna_hirundo": 30, "Sylvia_atricapilla": 30}
	root := makeTree(t, classes, 4)

	picked, err := CreateTestFile(root, "Fringilla_coelebs", "testing_list.txt", ManifestOptions{
		TestFraction: 0.3,
		Rand:         NewRand(42),
	})
	if err != nil {
		t.Fatalf("CreateTestFile() error = %v", err)
	}

	lines, err := ReadTestList(filepath.Join(root, "testing_list.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != len(picked) {
		t.Fatalf("manifest has %d lines, returned %d", len(lines), len(picked))
	}

	seen := map[string]bool{}
	for _, l := range lines {
		if seen[l] {
			t.Errorf("duplicate manifest line %q", l)
		}
		seen[l] = true
		if !audio.IsSegment(l) {
			t.Errorf("manifest lists non-segment %q", l)
		}
	}

	total := 100
	if len(lines) == 0 || len(lines) >= total {
		t.Errorf("manifest size %d out of range (0, %d)", len(lines), total)
	}
}

func TestCreateTestFileDeterministic(t *testing.T) {
	root := makeTree(t, map[string]int{"a": 20, "b": 20}, 4)
	opts := func() ManifestOptions { return ManifestOptions{TestFraction: 0.3, Rand: NewRand(7)} }

	first, err := CreateTestFile(root, "a", "list.txt", opts())
	if err != nil {
		t.Fatal(err)
	}
	second, err := CreateTestFile(root, "a", "list.txt", opts())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(first, "\n") != strings.Join(second, "\n") {
		t.Error("same seed produced different manifests")
	}
}

// baseDraw replays the per-segment draw CreateTestFile makes before the
// primary top-up.
func baseDraw(t *testing.T, root string, fraction float64, seed int64) map[string]bool {
	t.Helper()
	files, err := SoundFiles(root)
	if err != nil {
		t.Fatal(err)
	}
	rng := NewRand(seed)
	base := map[string]bool{}
	for _, f := range files {
		if rng.Float64() < fraction {
			base[filepath.Clean(f)] = true
		}
	}
	return base
}

func TestCreateTestFilePrimaryTopUp(t *testing.T) {
	classes := map[string]int{"Fringilla_coelebs": 40, "Sterna_hirundo": 30, "Sylvia_atricapilla": 30}

	tests := []struct {
		name      string
		fraction  float64
		wantTopUp bool
	}{
		{"default fraction", 0.3, true},
		{"ratio at least one", 0.99, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := makeTree(t, classes, 4)
			const seed = 42
			base := baseDraw(t, root, tt.fraction, seed)

			picked, err := CreateTestFile(root, "Fringilla_coelebs", "testing_list.txt", ManifestOptions{
				TestFraction: tt.fraction,
				Rand:         NewRand(seed),
			})
			if err != nil {
				t.Fatalf("CreateTestFile() error = %v", err)
			}

			var extra []string
			for _, p := range picked {
				if !base[p] {
					extra = append(extra, p)
				}
			}
			if len(picked) != len(base)+len(extra) {
				t.Fatalf("manifest dropped base entries: %d picked, %d base, %d extra", len(picked), len(base), len(extra))
			}
			for _, p := range extra {
				if filepath.Base(filepath.Dir(p)) != "Fringilla_coelebs" {
					t.Errorf("top-up added non-primary segment %q", p)
				}
			}

			quota := float64(len(base)) / float64(len(classes)-1)
			if limit := int(math.Floor(quota)) + 1; len(extra) > limit {
				t.Errorf("top-up added %d segments, quota allows at most %d", len(extra), limit)
			}
			if tt.wantTopUp && len(extra) == 0 {
				t.Error("top-up added no primary segments")
			}
			if !tt.wantTopUp && len(extra) != 0 {
				t.Errorf("top-up added %d segments with ratio >= 1, want 0", len(extra))
			}
		})
	}
}

func TestTopUp(t *testing.T) {
	primary := make([]string, 50)
	for i := range primary {
		primary[i] = fmt.Sprintf("p/%d.wav", i)
	}

	tests := []struct {
		name    string
		count   int
		folders int
		want    int // -1 checks only the bound
	}{
		{"nothing drawn", 0, 3, 1},
		{"quota bound", 20, 3, -1},
		{"ratio one", 50, 3, 0},
		{"ratio above one", 80, 3, 0},
		{"single folder", 20, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accepted := map[string]bool{}
			add := func(p string) bool {
				if accepted[p] {
					return false
				}
				accepted[p] = true
				return true
			}

			added, quota := topUp(primary, tt.count, tt.folders, NewRand(3), add)
			if added != len(accepted) {
				t.Errorf("topUp() = %d, add accepted %d", added, len(accepted))
			}
			if added > int(math.Floor(quota))+1 {
				t.Errorf("topUp() = %d, above floor(quota %g)+1", added, quota)
			}
			if tt.want >= 0 && added != tt.want {
				t.Errorf("topUp() = %d, want %d", added, tt.want)
			}
		})
	}
}

func TestTopUpSkipsDuplicates(t *testing.T) {
	primary := []string{"p/0.wav", "p/1.wav", "p/2.wav", "p/3.wav"}
	// Nothing new can be added, so the loop must not count rejected paths.
	added, _ := topUp(primary, 1, 2, NewRand(9), func(string) bool { return false })
	if added != 0 {
		t.Errorf("topUp() = %d with every path rejected, want 0", added)
	}
}

func TestProcessAudioFilesCap(t *testing.T) {
	root := makeTree(t, map[string]int{"a": 2410, "b": 3}, 4)

	split, err := ProcessAudioFiles(context.Background(), root, []string{"a", "b"}, NewTestSet(nil), ProcessOptions{
		MaxPerClass: 2400,
		ClipSamples: 16000,
	})
	if err != nil {
		t.Fatalf("ProcessAudioFiles() error = %v", err)
	}

	counts := Counts(split.Train, 2)
	if counts[0] != 2400 {
		t.Errorf("class a train count = %d, want 2400", counts[0])
	}
	if counts[1] != 3 {
		t.Errorf("class b train count = %d, want 3", counts[1])
	}
}

func TestProcessAudioFilesEndToEnd(t *testing.T) {
	classes := []string{"Fringilla_coelebs", "Sterna_hirundo", "Sylvia_atricapilla"}
	root := makeTree(t, map[string]int{classes[0]: 12, classes[1]: 9, classes[2]: 9, "Unlisted_bird": 5}, 100)

	picked, err := CreateTestFile(root, classes[0], "testing_list.txt", ManifestOptions{TestFraction: 0.3, Rand: NewRand(3)})
	if err != nil {
		t.Fatal(err)
	}
	inUnlisted := 0
	for _, p := range picked {
		if strings.Contains(p, "Unlisted_bird") {
			inUnlisted++
		}
	}

	split, err := ProcessAudioFiles(context.Background(), root, classes, NewTestSet(picked), ProcessOptions{
		MaxPerClass: 2400,
		ClipSamples: 16000,
	})
	if err != nil {
		t.Fatal(err)
	}

	if got, want := len(split.Train)+len(split.Test), 30; got != want {
		t.Errorf("train+test = %d, want %d", got, want)
	}
	if got, want := len(split.Test), len(picked)-inUnlisted; got != want {
		t.Errorf("test size = %d, want %d", got, want)
	}

	for _, s := range append(split.Train, split.Test...) {
		if len(s.Data) != 16000 {
			t.Fatalf("clip length = %d, want 16000", len(s.Data))
		}
		if s.Label < 0 || s.Label >= len(classes) {
			t.Fatalf("label %d out of range", s.Label)
		}
		// 100 stored samples of 0.25 on the int16 scale, then zero padding.
		if s.Data[0] != 8192 || s.Data[99] != 8192 || s.Data[100] != 0 {
			t.Fatalf("clip values = %v %v %v", s.Data[0], s.Data[99], s.Data[100])
		}
	}
}

func TestResize(t *testing.T) {
	tests := []struct {
		in   []float32
		n    int
		want []float32
	}{
		{[]float32{1, 2, 3}, 5, []float32{1, 2, 3, 0, 0}},
		{[]float32{1, 2, 3}, 2, []float32{1, 2}},
		{nil, 2, []float32{0, 0}},
	}
	for _, tt := range tests {
		got := Resize(tt.in, tt.n)
		if len(got) != tt.n {
			t.Fatalf("Resize() len = %d, want %d", len(got), tt.n)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Resize(%v, %d) = %v, want %v", tt.in, tt.n, got, tt.want)
				break
			}
		}
	}
}

func TestNormalize(t *testing.T) {
	train := []Sample{
		{Data: []float32{1, 2, 3}},
		{Data: []float32{4, 5}},
	}
	test := []Sample{{Data: []float32{3}}}

	st := Normalize(train, test)

	// Population statistics of 1..5.
	if math.Abs(st.Mean-3) > 1e-9 {
		t.Errorf("Mean = %v, want 3", st.Mean)
	}
	if math.Abs(st.Std-math.Sqrt(2)) > 1e-9 {
		t.Errorf("Std = %v, want sqrt(2)", st.Std)
	}
	if test[0].Data[0] != 0 {
		t.Errorf("normalized test value = %v, want 0", test[0].Data[0])
	}
	if math.Abs(float64(train[0].Data[0])+2/math.Sqrt(2)) > 1e-6 {
		t.Errorf("normalized train value = %v", train[0].Data[0])
	}
}

func TestStatsApplyZeroStd(t *testing.T) {
	x := []float32{5, 5}
	Stats{Mean: 5}.Apply(x)
	if x[0] != 0 || x[1] != 0 {
		t.Errorf("Apply() = %v, want zeros", x)
	}
}

func TestWriteCSV(t *testing.T) {
	dir := t.TempDir()
	samples := []Sample{
		{Data: []float32{0.5, -1}, Label: 2},
		{Data: []float32{0, 1.25}, Label: 0},
	}
	if err := WriteCSV(dir, samples, 3); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	read := func(name string) [][]string {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		rows, err := csv.NewReader(f).ReadAll()
		if err != nil {
			t.Fatal(err)
		}
		return rows
	}

	x := read(XTestFile)
	if strings.Join(x[0], ",") != "0.5,-1" || strings.Join(x[1], ",") != "0,1.25" {
		t.Errorf("x rows = %v", x)
	}
	y := read(YTestFile)
	if strings.Join(y[0], ",") != "0,0,1" || strings.Join(y[1], ",") != "1,0,0" {
		t.Errorf("y rows = %v", y)
	}
}
