package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMissingInput means the raw recording does not exist.
	ErrMissingInput = errors.New("missing input recording")
	// ErrProbeFailed means ffprobe could not be run or exited non-zero.
	ErrProbeFailed = errors.New("probe failed")
	// ErrMalformedProbe means ffprobe ran but its output could not be understood.
	ErrMalformedProbe = errors.New("malformed probe output")
)

// Probe holds the source media properties the pipeline needs.
type Probe struct {
	Width           int
	Height          int
	FrameRate       float64
	Duration        float64
	Size            int64
	AudioChannels   int
	AudioSampleRate int
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Channels   int    `json:"channels"`
		SampleRate string `json:"sample_rate"`
	} `json:"streams"`
	Format *struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

func (p *Pipeline) probe(ctx context.Context, input string) (Probe, error) {
	out, err := p.runner.Run(ctx, "", p.cfg.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	)
	if err != nil {
		return Probe{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	return ParseProbe(out)
}

// ParseProbe parses `ffprobe -print_format json -show_format -show_streams`
// output. The first video stream supplies geometry and frame rate.
func ParseProbe(data []byte) (Probe, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return Probe{}, fmt.Errorf("%w: %v", ErrMalformedProbe, err)
	}
	if raw.Format == nil {
		return Probe{}, fmt.Errorf("%w: no format section", ErrMalformedProbe)
	}

	var (
		p        Probe
		hasVideo bool
		err      error
	)
	if p.Duration, err = strconv.ParseFloat(raw.Format.Duration, 64); err != nil {
		return Probe{}, fmt.Errorf("%w: duration %q", ErrMalformedProbe, raw.Format.Duration)
	}
	if p.Size, err = strconv.ParseInt(raw.Format.Size, 10, 64); err != nil {
		return Probe{}, fmt.Errorf("%w: size %q", ErrMalformedProbe, raw.Format.Size)
	}

	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if hasVideo {
				continue
			}
			if s.Width <= 0 || s.Height <= 0 {
				return Probe{}, fmt.Errorf("%w: video dimensions %dx%d", ErrMalformedProbe, s.Width, s.Height)
			}
			fps, err := parseRate(s.RFrameRate)
			if err != nil {
				return Probe{}, err
			}
			p.Width, p.Height, p.FrameRate = s.Width, s.Height, fps
			hasVideo = true
		case "audio":
			if p.AudioChannels > 0 {
				continue
			}
			p.AudioChannels = s.Channels
			if s.SampleRate != "" {
				if p.AudioSampleRate, err = strconv.Atoi(s.SampleRate); err != nil {
					return Probe{}, fmt.Errorf("%w: sample rate %q", ErrMalformedProbe, s.SampleRate)
				}
			}
		}
	}
	if !hasVideo {
		return Probe{}, fmt.Errorf("%w: no video stream", ErrMalformedProbe)
	}
	return p, nil
}

// parseRate parses an "a/b" rational frame rate.
func parseRate(s string) (float64, error) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return 0, fmt.Errorf("%w: frame rate %q", ErrMalformedProbe, s)
	}
	n, err1 := strconv.ParseUint(num, 10, 32)
	d, err2 := strconv.ParseUint(den, 10, 32)
	if err1 != nil || err2 != nil || d == 0 {
		return 0, fmt.Errorf("%w: frame rate %q", ErrMalformedProbe, s)
	}
	return float64(n) / float64(d), nil
}
