package xenocanto

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/blake2b"
)

type memSink struct {
	mu      sync.Mutex
	paths   []string
	sizes   []int64
	digests [][]byte
}

func (s *memSink) Downloaded(_ context.Context, _ Recording, path string, size int64, digest []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	s.sizes = append(s.sizes, size)
	s.digests = append(s.digests, digest)
	return nil
}

func fileServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if strings.HasSuffix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "audio:"+r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadWritesTarget(t *testing.T) {
	var hits int32
	srv := fileServer(t, &hits)
	root := t.TempDir()
	sink := &memSink{}
	d := NewDownloader(root, srv.Client(), WithSink(sink), WithProgressOutput(io.Discard))

	r := Recording{ID: "1", Gen: "Fringilla", Sp: "coelebs", Q: "A", FileName: "XC1-chaffinch.mp3", File: srv.URL + "/1/download"}
	path, skipped, err := d.Download(context.Background(), r)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if skipped {
		t.Error("Download() skipped a new file")
	}
	if want := filepath.Join(root, "Fringilla_coelebs", "A_XC1-chaffinch.mp3"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "audio:/1/download" {
		t.Errorf("content = %q", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	if len(sink.paths) != 1 || sink.paths[0] != path {
		t.Fatalf("sink paths = %v, want [%s]", sink.paths, path)
	}
	if sink.sizes[0] != int64(len(data)) {
		t.Errorf("sink size = %d, want %d", sink.sizes[0], len(data))
	}
	want := blake2b.Sum256(data)
	if !bytes.Equal(sink.digests[0], want[:]) {
		t.Error("sink digest does not match file content")
	}
}

func TestDownloadSkipsExistingWithoutRequest(t *testing.T) {
	var hits int32
	srv := fileServer(t, &hits)
	root := t.TempDir()
	d := NewDownloader(root, srv.Client(), WithProgressOutput(io.Discard))

	r := Recording{Gen: "Sterna", Sp: "hirundo", Q: "B", FileName: "XC2.mp3", File: srv.URL + "/2/download"}
	target := TargetPath(root, r)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("keep me"), 0644); err != nil {
		t.Fatal(err)
	}

	path, skipped, err := d.Download(context.Background(), r)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if !skipped || path != target {
		t.Errorf("Download() = (%q, %v), want (%q, true)", path, skipped, target)
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Errorf("server hit %d times, want 0", n)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "keep me" {
		t.Errorf("existing file changed to %q", data)
	}
}

func TestDownloadAllContinuesAfterFailure(t *testing.T) {
	var hits int32
	srv := fileServer(t, &hits)
	root := t.TempDir()
	d := NewDownloader(root, srv.Client(), WithProgressOutput(io.Discard))

	recs := []Recording{
		{Gen: "Sylvia", Sp: "atricapilla", Q: "A", FileName: "XC3.mp3", File: srv.URL + "/missing"},
		{Gen: "Sylvia", Sp: "atricapilla", Q: "A", FileName: "XC4.mp3", File: srv.URL + "/4/download"},
	}
	sum, err := d.DownloadAll(context.Background(), recs)
	if err != nil {
		t.Fatalf("DownloadAll() error = %v", err)
	}
	if sum.Failed != 1 || sum.Downloaded != 1 || sum.Skipped != 0 {
		t.Errorf("summary = %+v, want 1 failed, 1 downloaded", sum)
	}
	if _, err := os.Stat(TargetPath(root, recs[0])); !os.IsNotExist(err) {
		t.Error("failed download left a file behind")
	}

	sum, err = d.DownloadAll(context.Background(), recs)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Skipped != 1 || sum.Failed != 1 {
		t.Errorf("second summary = %+v, want 1 skipped, 1 failed", sum)
	}
}

func TestDownloadAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDownloader(t.TempDir(), nil, WithProgressOutput(io.Discard))
	_, err := d.DownloadAll(ctx, []Recording{{Gen: "a", Sp: "b", FileName: "c"}})
	if err == nil {
		t.Error("DownloadAll() should return the context error")
	}
}

func TestFileURL(t *testing.T) {
	if got := fileURL("//xeno-canto.org/1/download"); got != "https://xeno-canto.org/1/download" {
		t.Errorf("fileURL() = %q", got)
	}
	if got := fileURL("https://x/1"); got != "https://x/1" {
		t.Errorf("fileURL() = %q", got)
	}
}
