package ffmpeg

import (
	"context"
	"fmt"
)

// Remux re-encodes an annotated video to H.264 and copies in the audio
// track of the source video when it has one.
func (e *Executor) Remux(ctx context.Context, opts RemuxOptions) error {
	args, err := buildRemuxArgs(opts)
	if err != nil {
		return fmt.Errorf("invalid remux options: %w", err)
	}

	e.logger.Info().
		Str("annotated", opts.Annotated).
		Str("source", opts.Source).
		Str("output", opts.Output).
		Msg("starting remux")

	runOpts := RunOptions{
		Args:            args,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Trace().Str("ffmpeg", line).Msg("remux output")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("remux failed: %w", err)
	}

	e.logger.Info().Str("output", opts.Output).Msg("remux completed")
	return nil
}

func buildRemuxArgs(opts RemuxOptions) ([]string, error) {
	if opts.Annotated == "" {
		return nil, fmt.Errorf("annotated input is required")
	}
	if opts.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if opts.Output == opts.Annotated || opts.Output == opts.Source {
		return nil, fmt.Errorf("output must differ from inputs")
	}

	args := []string{"-i", opts.Annotated}
	if opts.Source != "" {
		args = append(args, "-i", opts.Source)
	}

	args = append(args, "-map", "0:v:0")
	if opts.Source != "" {
		// Trailing "?" keeps sources without audio from failing
		args = append(args, "-map", "1:a:0?")
	}

	filter := NewFilterBuilder().EvenDimensions().PixelFormat(DefaultPixFmt).Build()
	args = append(args, "-vf", filter)

	crf := opts.CRF
	if crf == 0 {
		crf = DefaultCRF
	}
	preset := opts.Preset
	if preset == "" {
		preset = DefaultPreset
	}

	args = append(args,
		"-c:v", DefaultVideoCodec,
		"-crf", fmt.Sprintf("%d", crf),
		"-preset", preset,
		"-c:a", DefaultAudioCodec,
		"-shortest",
		"-movflags", "+faststart",
		opts.Output,
	)
	return args, nil
}
