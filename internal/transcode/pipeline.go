// Package transcode turns a finished recording into the configured ladder
// of delivery variants with ffmpeg.
//
// A run is resumable at variant granularity: finished files are moved into
// the output directory only after their encoder exits successfully, and
// existing files are skipped on the next run.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/weiawesome/wes-io-broadcast/internal/domain"
	"github.com/weiawesome/wes-io-broadcast/pkg/log"
)

// Result is the outcome of a successful run.
type Result struct {
	Duration float64
	Variants []domain.Variant
	Source   Probe
}

// Pipeline transcodes recordings below a storage directory.
type Pipeline struct {
	cfg    Config
	runner Runner
}

// New creates a pipeline. runner may be nil to use ExecRunner.
func New(cfg Config, runner Runner) *Pipeline {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Pipeline{cfg: cfg.withDefaults(), runner: runner}
}

// InputPath returns where the raw recording of id is expected.
func (p *Pipeline) InputPath(id string) string {
	return filepath.Join(p.cfg.StorageDir, "recordings", id+".flv")
}

// OutputDir returns the directory variants of id are written to.
func (p *Pipeline) OutputDir(id string) string {
	return filepath.Join(p.cfg.StorageDir, "encoded", id)
}

// job is one planned variant.
type job struct {
	codec    Codec
	name     string
	spec     VariantSpec
	filename string
	fps      float64
}

// plan returns the variants that fit the source, VP9 first then H.264, each
// ordered by height then name.
func (p *Pipeline) plan(src Probe) []job {
	var jobs []job
	for _, family := range []struct {
		codec  Codec
		ladder map[string]VariantSpec
	}{{VP9, p.cfg.Ladder.VP9}, {H264, p.cfg.Ladder.H264}} {
		var batch []job
		for name, spec := range family.ladder {
			if spec.Height > src.Height {
				continue
			}
			batch = append(batch, job{
				codec:    family.codec,
				name:     name,
				spec:     spec,
				filename: family.codec.Filename(name),
				fps:      EffectiveFPS(src.FrameRate, spec.MaxFPS),
			})
		}
		sort.Slice(batch, func(i, j int) bool {
			if batch[i].spec.Height != batch[j].spec.Height {
				return batch[i].spec.Height < batch[j].spec.Height
			}
			return batch[i].name < batch[j].name
		})
		jobs = append(jobs, batch...)
	}
	return jobs
}

// EffectiveFPS is the source rate limited by the variant cap, if any.
func EffectiveFPS(source, maxFPS float64) float64 {
	if maxFPS <= 0 {
		return source
	}
	return math.Min(source, maxFPS)
}

// Run probes the recording of id and produces every missing variant. Any
// probe or encoder failure aborts the run; variants finished before the
// failure stay on disk for the next attempt.
func (p *Pipeline) Run(ctx context.Context, id string) (Result, error) {
	l := log.Ctx(ctx).With().Str(log.FieldVideoID, id).Logger()

	input := p.InputPath(id)
	if _, err := os.Stat(input); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrMissingInput, input)
		}
		return Result{}, fmt.Errorf("stat input: %w", err)
	}

	src, err := p.probe(ctx, input)
	if err != nil {
		return Result{}, err
	}
	l.Info().Int("width", src.Width).Int("height", src.Height).Float64("fps", src.FrameRate).
		Float64("duration", src.Duration).Msg("probed recording")

	outDir := p.OutputDir(id)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	jobs := p.plan(src)
	variants := make([]domain.Variant, 0, len(jobs))
	for _, j := range jobs {
		output := filepath.Join(outDir, j.filename)
		variants = append(variants, domain.Variant{
			Height:   j.spec.Height,
			MimeType: j.codec.MimeType(),
			Filename: j.filename,
		})

		if _, err := os.Stat(output); err == nil {
			l.Debug().Str(log.FieldVariant, j.filename).Msg("variant exists, skipping")
			continue
		}

		if err := p.encode(ctx, j, input, output); err != nil {
			return Result{}, fmt.Errorf("encode %s: %w", j.filename, err)
		}
		l.Info().Str(log.FieldVariant, j.filename).Msg("variant encoded")
	}

	return Result{Duration: src.Duration, Variants: variants, Source: src}, nil
}

// encode runs the codec's passes in a private scratch directory. The encoder
// writes a hidden partial file next to the final output, which is renamed
// into place only on success. The scratch directory and any partial file are
// removed on every path.
func (p *Pipeline) encode(ctx context.Context, j job, input, output string) error {
	scratch, err := os.MkdirTemp(p.cfg.ScratchDir, "transcode-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	partial := filepath.Join(filepath.Dir(output), "."+j.filename+".partial")
	defer os.Remove(partial)

	for _, args := range j.codec.commands(encodeParams{
		spec:       j.spec,
		fps:        j.fps,
		applyFPS:   p.cfg.ApplyFPSCap,
		sampleRate: p.cfg.AudioSampleRate,
		threads:    p.cfg.Threads,
		input:      input,
		output:     partial,
		scratch:    scratch,
	}) {
		if _, err := p.runner.Run(ctx, scratch, p.cfg.FFmpegPath, args...); err != nil {
			return err
		}
	}

	info, err := os.Stat(partial)
	if err != nil {
		return fmt.Errorf("encoder produced no output: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("encoder produced an empty file")
	}
	return os.Rename(partial, output)
}
