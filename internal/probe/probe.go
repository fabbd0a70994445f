// Package probe wraps the external ffprobe tool used to extract technical
// metadata from media files. The tool is treated as a black box: invocation
// failures, timeouts and unparseable output all degrade to a nil result
// rather than propagating into the caller.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"media-indexer/internal/database"
	"media-indexer/internal/logging"
)

// defaultTimeout is the hard cap on one probe invocation. ffprobe can hang
// indefinitely on truncated containers.
const defaultTimeout = 30 * time.Second

// probeOutput is the JSON shape of `ffprobe -print_format json`.
type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	Duration string            `json:"duration"`
	Tags     map[string]string `json:"tags"`
}

type probeStream struct {
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int64             `json:"width"`
	Height       int64             `json:"height"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	RFrameRate   string            `json:"r_frame_rate"`
	Duration     string            `json:"duration"`
	Tags         map[string]string `json:"tags"`
}

// Prober invokes the configured probe binary.
type Prober struct {
	binary  string
	timeout time.Duration

	checkOnce sync.Once
	available bool
}

// New creates a Prober for the given binary path. An empty path means the
// probe is unconfigured and Extract always degrades to nil.
func New(binary string) *Prober {
	return &Prober{binary: binary, timeout: defaultTimeout}
}

// Available reports whether the probe binary is present and executable.
// The check runs once and is cached for the process lifetime.
func (p *Prober) Available() bool {
	p.checkOnce.Do(func() {
		if p.binary == "" {
			logging.Info("Probe binary unconfigured; extended extensions and harvesting disabled")
			return
		}
		if _, err := exec.LookPath(p.binary); err != nil {
			logging.Warn("Probe binary %s not executable: %v", p.binary, err)
			return
		}
		p.available = true
		logging.Info("Probe binary available: %s", p.binary)
	})
	return p.available
}

// Extract probes path and returns the technical metadata, or nil when the
// file could not be probed. Only genuinely unexpected conditions (probe
// unavailable) surface as errors; a failed probe of one file is a nil
// result.
func (p *Prober) Extract(ctx context.Context, path string) (*database.TechnicalMetadata, error) {
	if !p.Available() {
		return nil, fmt.Errorf("probe binary unavailable")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		logging.Debug("Probe of %s failed: %v - %s", path, err, stderr.String())
		return nil, nil
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		logging.Debug("Probe output for %s unparseable: %v", path, err)
		return nil, nil
	}

	return parseOutput(&out), nil
}

// parseOutput maps the probe JSON onto technical metadata. Fields the
// probe did not report stay nil so the store keeps whatever it has.
func parseOutput(out *probeOutput) *database.TechnicalMetadata {
	meta := &database.TechnicalMetadata{}

	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && d > 0 {
		meta.Duration = &d
	}

	var video *probeStream
	for i := range out.Streams {
		if out.Streams[i].CodecType == "video" {
			video = &out.Streams[i]
			break
		}
	}

	if video != nil {
		if video.CodecName != "" {
			codec := video.CodecName
			meta.Codec = &codec
		}
		if video.Width > 0 {
			w := video.Width
			meta.Width = &w
		}
		if video.Height > 0 {
			h := video.Height
			meta.Height = &h
		}
		if video.Width > 0 && video.Height > 0 {
			ratio := float64(video.Width) / float64(video.Height)
			meta.AspectRatio = &ratio
		}
		if fps, ok := parseFrameRate(video.AvgFrameRate); ok {
			meta.FPS = &fps
		} else if fps, ok := parseFrameRate(video.RFrameRate); ok {
			meta.FPS = &fps
		}
		if meta.Duration == nil {
			if d, err := strconv.ParseFloat(video.Duration, 64); err == nil && d > 0 {
				meta.Duration = &d
			}
		}
	}

	if params := collectTags(out, video); params != "" {
		meta.Params = &params
	}

	return meta
}

// parseFrameRate evaluates ffprobe's rational frame rate ("30000/1001").
func parseFrameRate(rate string) (float64, bool) {
	if rate == "" || rate == "0/0" {
		return 0, false
	}

	num, den, found := strings.Cut(rate, "/")
	if !found {
		f, err := strconv.ParseFloat(rate, 64)
		return f, err == nil && f > 0
	}

	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, false
	}

	fps := n / d
	return fps, fps > 0
}

// collectTags serializes the container and video stream tags as the opaque
// generation-params blob.
func collectTags(out *probeOutput, video *probeStream) string {
	merged := make(map[string]string, len(out.Format.Tags))
	for k, v := range out.Format.Tags {
		merged[k] = v
	}
	if video != nil {
		for k, v := range video.Tags {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return ""
	}

	blob, err := json.Marshal(merged)
	if err != nil {
		return ""
	}
	return string(blob)
}
