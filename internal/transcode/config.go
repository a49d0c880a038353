package transcode

import "time"

// VariantSpec is one rung of the ladder.
type VariantSpec struct {
	Height        int     `mapstructure:"height"`
	Bitrate       int     `mapstructure:"bitrate"` // kbit/s
	AudioChannels int     `mapstructure:"audio_channels"`
	MaxFPS        float64 `mapstructure:"max_fps"` // 0 means uncapped
}

// Ladder lists the variants per codec family, keyed by variant name (e.g. "480p").
type Ladder struct {
	VP9  map[string]VariantSpec `mapstructure:"vp9"`
	H264 map[string]VariantSpec `mapstructure:"h264"`
}

// Config configures the pipeline.
type Config struct {
	// StorageDir holds recordings/<id>.flv and encoded/<id>/.
	StorageDir  string `mapstructure:"storage_dir"`
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	// ScratchDir is where per-variant working directories are created.
	// Empty means the OS temp dir.
	ScratchDir      string `mapstructure:"scratch_dir"`
	AudioSampleRate int    `mapstructure:"audio_sample_rate"`
	Threads         int    `mapstructure:"threads"`
	// ApplyFPSCap passes the effective frame rate to the encoder.
	ApplyFPSCap bool `mapstructure:"apply_fps_cap"`

	// MaxAttempts and MaxConcurrent are enforced by the lifecycle monitor.
	MaxAttempts   int           `mapstructure:"max_attempts"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`

	Ladder Ladder `mapstructure:"ladder"`
}

func (c Config) withDefaults() Config {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.FFprobePath == "" {
		c.FFprobePath = "ffprobe"
	}
	if c.AudioSampleRate <= 0 {
		c.AudioSampleRate = 48000
	}
	if c.Threads <= 0 {
		c.Threads = 4
	}
	return c
}

// DefaultLadder is the stock VP9 and H.264 ladder.
func DefaultLadder() Ladder {
	return Ladder{
		VP9: map[string]VariantSpec{
			"240p":  {Height: 240, Bitrate: 157, AudioChannels: 1, MaxFPS: 24},
			"360p":  {Height: 360, Bitrate: 373, AudioChannels: 2, MaxFPS: 24},
			"480p":  {Height: 480, Bitrate: 727, AudioChannels: 2, MaxFPS: 24},
			"720p":  {Height: 720, Bitrate: 1468, AudioChannels: 2, MaxFPS: 60},
			"1080p": {Height: 1080, Bitrate: 2567, AudioChannels: 2, MaxFPS: 60},
		},
		H264: map[string]VariantSpec{
			"240p":  {Height: 240, Bitrate: 242, AudioChannels: 1, MaxFPS: 24},
			"360p":  {Height: 360, Bitrate: 525, AudioChannels: 2, MaxFPS: 24},
			"480p":  {Height: 480, Bitrate: 1155, AudioChannels: 2, MaxFPS: 24},
			"720p":  {Height: 720, Bitrate: 1378, AudioChannels: 2, MaxFPS: 60},
			"1080p": {Height: 1080, Bitrate: 2309, AudioChannels: 2, MaxFPS: 60},
		},
	}
}
