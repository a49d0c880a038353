package transcode

import (
	"os"
	"path/filepath"
	"strconv"
)

// Codec is a supported codec family.
type Codec string

const (
	VP9  Codec = "vp9"
	H264 Codec = "h264"
)

// MimeType returns the container MIME type the family is delivered in.
func (c Codec) MimeType() string {
	if c == VP9 {
		return "video/webm"
	}
	return "video/mp4"
}

// Filename returns the output file name for the named variant.
func (c Codec) Filename(name string) string {
	if c == VP9 {
		return "vp9_" + name + ".webm"
	}
	return "h264_" + name + ".mp4"
}

// encodeParams is everything a command builder needs for one variant.
type encodeParams struct {
	spec       VariantSpec
	fps        float64
	applyFPS   bool
	sampleRate int
	threads    int
	input      string
	output     string
	scratch    string
}

// commands returns the ffmpeg argument lists for one variant, run in order
// with the scratch directory as working directory.
func (c Codec) commands(p encodeParams) [][]string {
	video := []string{
		"-y",
		"-i", p.input,
		"-vf", "scale=-2:" + strconv.Itoa(p.spec.Height),
	}
	if p.applyFPS && p.fps > 0 {
		video = append(video, "-r", strconv.FormatFloat(p.fps, 'f', -1, 64))
	}
	bitrate := strconv.Itoa(p.spec.Bitrate) + "K"
	audio := []string{
		"-ac", strconv.Itoa(p.spec.AudioChannels),
		"-ar", strconv.Itoa(p.sampleRate),
	}

	if c == VP9 {
		passLog := filepath.Join(p.scratch, "ffmpeg2pass")
		common := append(append([]string{}, video...),
			"-c:v", "libvpx-vp9",
			"-b:v", bitrate,
			"-threads", strconv.Itoa(p.threads),
			"-row-mt", "1",
			"-passlogfile", passLog,
		)
		pass1 := append(append([]string{}, common...), "-pass", "1", "-an", "-f", "webm", os.DevNull)
		pass2 := append(append([]string{}, common...), "-pass", "2", "-c:a", "libopus")
		pass2 = append(append(pass2, audio...), "-f", "webm", p.output)
		return [][]string{pass1, pass2}
	}

	single := append(append([]string{}, video...),
		"-c:v", "libx264",
		"-b:v", bitrate,
		"-c:a", "aac",
	)
	single = append(append(single, audio...), "-f", "mp4", p.output)
	return [][]string{single}
}
