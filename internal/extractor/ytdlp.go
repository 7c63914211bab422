package extractor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fdown/api/internal/model"
)

const (
	defaultBinary           = "yt-dlp"
	defaultProgressInterval = 200 * time.Millisecond

	// Facebook blocks obvious bot traffic, so requests go out with a
	// browser user agent.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// progressRe matches yt-dlp --newline progress output, e.g.
// "[download]  42.5% of 10.00MiB at 1.00MiB/s ETA 00:05".
var progressRe = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)

// destinationRe captures the output file path announced by yt-dlp.
var destinationRe = regexp.MustCompile(`\[download\] Destination: (.+)$`)

// YtDlp invokes the yt-dlp binary as an owned subprocess. Cancelling the
// context kills the process.
type YtDlp struct {
	binary           string
	progressInterval time.Duration
}

// NewYtDlp creates a yt-dlp adapter. Empty binary means "yt-dlp" from PATH;
// zero interval means the default progress throttle.
func NewYtDlp(binary string, progressInterval time.Duration) *YtDlp {
	if binary == "" {
		binary = defaultBinary
	}
	if progressInterval <= 0 {
		progressInterval = defaultProgressInterval
	}
	return &YtDlp{binary: binary, progressInterval: progressInterval}
}

// Extract downloads the video into destDir and reports throttled progress.
func (y *YtDlp) Extract(ctx context.Context, spec model.JobSpec, destDir string, progress ProgressFunc) (*Result, error) {
	args := []string{
		"--newline",
		"--no-playlist",
		"--no-warnings",
		"--user-agent", userAgent,
		"-f", formatSelector(spec.Format, spec.Quality),
		"-o", filepath.Join(destDir, "%(title)s.%(ext)s"),
		spec.URL,
	}

	cmd := exec.CommandContext(ctx, y.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, NewError(model.ErrKindExtractionFailed, "failed to start %s: %v", y.binary, err)
	}

	var destination string
	lastReport := time.Time{}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if m := destinationRe.FindStringSubmatch(line); m != nil {
			destination = m[1]
			continue
		}
		pct, ok := parseProgressLine(line)
		if !ok || progress == nil {
			continue
		}
		// Throttle so subscribers are not flooded, but always let 100% through.
		if pct < 100 && time.Since(lastReport) < y.progressInterval {
			continue
		}
		lastReport = time.Now()
		progress(pct)
	}

	if err := cmd.Wait(); err != nil {
		// Timeout and cancellation belong to the caller; report them as-is.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyFailure(stderr.String())
	}

	return resolveOutput(destDir, destination)
}

// Probe extracts video metadata without downloading (yt-dlp -J).
func (y *YtDlp) Probe(ctx context.Context, url string) (*model.VideoInfo, error) {
	cmd := exec.CommandContext(ctx, y.binary,
		"-J",
		"--no-playlist",
		"--no-warnings",
		"--user-agent", userAgent,
		url,
	)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyFailure(stderr.String())
	}
	return parseProbeOutput(out.Bytes())
}

// formatSelector maps the requested format and quality onto a yt-dlp format
// expression, always falling back to "best" when the specific selection is
// unavailable.
func formatSelector(format, quality string) string {
	var constraints []string
	if format != "" && format != "best" {
		constraints = append(constraints, "[ext="+format+"]")
	}
	if quality != "" && quality != "best" {
		height := strings.TrimSuffix(quality, "p")
		if _, err := strconv.Atoi(height); err == nil {
			constraints = append(constraints, "[height<=?"+height+"]")
		}
	}
	if len(constraints) == 0 {
		return "best"
	}
	return "best" + strings.Join(constraints, "") + "/best"
}

// parseProgressLine extracts the percent from a yt-dlp progress line.
func parseProgressLine(line string) (int, bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	pct := int(f)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// classifyFailure maps yt-dlp stderr output onto the error taxonomy.
func classifyFailure(stderr string) *Error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "unsupported url"),
		strings.Contains(lower, "is not a valid url"):
		return NewError(model.ErrKindInvalidURL, "%s", lastLine(msg))
	case strings.Contains(lower, "requested format is not available"):
		return NewError(model.ErrKindUnsupportedFormat, "%s", lastLine(msg))
	default:
		if msg == "" {
			msg = "extractor exited with an error"
		}
		return NewError(model.ErrKindExtractionFailed, "%s", lastLine(msg))
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// resolveOutput locates the downloaded file. The destination announced on
// stdout is preferred; otherwise the largest file in destDir wins (merged
// outputs are not always announced).
func resolveOutput(destDir, destination string) (*Result, error) {
	path := destination
	if path == "" || !fileExists(path) {
		found, err := largestFile(destDir)
		if err != nil {
			return nil, NewError(model.ErrKindExtractionFailed, "no output file produced: %v", err)
		}
		path = found
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, NewError(model.ErrKindExtractionFailed, "output file missing: %v", err)
	}

	return &Result{
		Path:        path,
		Filename:    filepath.Base(path),
		Size:        info.Size(),
		ContentType: contentTypeByExt(path),
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func largestFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var best string
	var bestSize int64 = -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, e.Name())
			bestSize = info.Size()
		}
	}
	if best == "" {
		return "", fmt.Errorf("empty output directory %s", dir)
	}
	return best, nil
}

func contentTypeByExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	default:
		return "application/octet-stream"
	}
}
