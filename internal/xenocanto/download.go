package xenocanto

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/crypto/blake2b"
)

// Sink is told about every file the Downloader writes.
type Sink interface {
	Downloaded(ctx context.Context, rec Recording, path string, size int64, digest []byte) error
}

// Summary counts the outcome of DownloadAll.
type Summary struct {
	Downloaded int
	Skipped    int
	Failed     int
}

// Downloader fetches recording files into <root>/<gen>_<sp>/.
type Downloader struct {
	root     string
	http     *http.Client
	sink     Sink
	progress io.Writer
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithSink reports completed downloads to s.
func WithSink(s Sink) Option {
	return func(d *Downloader) { d.sink = s }
}

// WithProgressOutput sends progress bars to w instead of stderr.
func WithProgressOutput(w io.Writer) Option {
	return func(d *Downloader) { d.progress = w }
}

// NewDownloader creates a Downloader writing below root.
func NewDownloader(root string, client *http.Client, opts ...Option) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	d := &Downloader{root: root, http: client, progress: os.Stderr}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches one recording. If the target file already exists no
// request is made and skipped is true.
func (d *Downloader) Download(ctx context.Context, rec Recording) (path string, skipped bool, err error) {
	p := mpb.New(mpb.WithOutput(d.progress), mpb.WithWidth(40))
	defer p.Wait()
	return d.download(ctx, p, rec)
}

// DownloadAll fetches every recording in order. A failed file is logged,
// counted and leaves nothing on disk; it does not stop the remaining files.
// Only context cancellation ends the run early.
func (d *Downloader) DownloadAll(ctx context.Context, recs []Recording) (Summary, error) {
	var sum Summary
	p := mpb.New(mpb.WithOutput(d.progress), mpb.WithWidth(40))
	defer p.Wait()

	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		slog.Info("downloading file", "index", i+1, "total", len(recs), "file", rec.FileName)
		path, skipped, err := d.download(ctx, p, rec)
		switch {
		case err != nil:
			sum.Failed++
			slog.Error("download failed", "file", rec.FileName, "url", rec.File, "err", err)
		case skipped:
			sum.Skipped++
			slog.Info("file exists, skipping", "path", path)
		default:
			sum.Downloaded++
		}
	}
	return sum, nil
}

func (d *Downloader) download(ctx context.Context, p *mpb.Progress, rec Recording) (string, bool, error) {
	target := TargetPath(d.root, rec)
	if _, err := os.Stat(target); err == nil {
		return target, true, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", false, fmt.Errorf("xenocanto: creating species dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL(rec.File), nil)
	if err != nil {
		return "", false, fmt.Errorf("xenocanto: create request: %w", err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("xenocanto: fetching %s: %w", rec.File, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("xenocanto: fetching %s: HTTP %d", rec.File, resp.StatusCode)
	}

	// Write to temp file first, then rename
	tmpPath := target + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", false, fmt.Errorf("xenocanto: creating temp file: %w", err)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", false, fmt.Errorf("xenocanto: digest: %w", err)
	}

	label := filepath.Base(target)
	bar := p.AddBar(resp.ContentLength,
		mpb.PrependDecorators(decor.Name(label, decor.WCSyncSpaceR), decor.CountersKibiByte("% .1f / % .1f")),
		mpb.AppendDecorators(decor.Percentage()),
		mpb.BarRemoveOnComplete(),
	)
	body := bar.ProxyReader(resp.Body)
	defer body.Close()

	written, err := io.Copy(io.MultiWriter(f, h), body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		bar.Abort(true)
		os.Remove(tmpPath)
		return "", false, fmt.Errorf("xenocanto: writing %s: %w", label, err)
	}
	if resp.ContentLength <= 0 {
		bar.SetTotal(-1, true)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return "", false, fmt.Errorf("xenocanto: moving %s: %w", label, err)
	}

	if d.sink != nil {
		if err := d.sink.Downloaded(ctx, rec, target, written, h.Sum(nil)); err != nil {
			slog.Warn("recording not catalogued", "path", target, "err", err)
		}
	}
	return target, false, nil
}

// fileURL completes protocol-relative links returned by older API versions.
func fileURL(file string) string {
	if strings.HasPrefix(file, "//") {
		return "https:" + file
	}
	return file
}
