package extractor

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fdown/api/internal/model"
)

// Fake is a scriptable Extractor used by tests in place of the yt-dlp
// subprocess. ExtractFunc, when set, replaces the built-in behavior of
// writing Payload to a file after reporting Steps progress values.
type Fake struct {
	ExtractFunc func(ctx context.Context, spec model.JobSpec, destDir string, progress ProgressFunc) (*Result, error)
	ProbeFunc   func(ctx context.Context, url string) (*model.VideoInfo, error)

	Payload []byte
	Steps   []int

	calls atomic.Int64
}

func (f *Fake) Extract(ctx context.Context, spec model.JobSpec, destDir string, progress ProgressFunc) (*Result, error) {
	f.calls.Add(1)
	if f.ExtractFunc != nil {
		return f.ExtractFunc(ctx, spec, destDir, progress)
	}

	for _, pct := range f.Steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if progress != nil {
			progress(pct)
		}
	}

	payload := f.Payload
	if payload == nil {
		payload = []byte("fake video bytes")
	}
	path := filepath.Join(destDir, "video.mp4")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return nil, err
	}
	return &Result{
		Path:        path,
		Filename:    "video.mp4",
		Size:        int64(len(payload)),
		ContentType: "video/mp4",
	}, nil
}

func (f *Fake) Probe(ctx context.Context, url string) (*model.VideoInfo, error) {
	if f.ProbeFunc != nil {
		return f.ProbeFunc(ctx, url)
	}
	return &model.VideoInfo{
		Title: "Fake Video",
		Formats: []model.VideoFormat{
			{FormatID: "best", Resolution: "best", Ext: "mp4"},
		},
	}, nil
}

// Calls reports how many times Extract has been invoked.
func (f *Fake) Calls() int64 {
	return f.calls.Load()
}
