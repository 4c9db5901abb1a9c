// Package extract samples still frames from labeled training videos.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/kikiluvv/vigil/internal/labels"
	"github.com/kikiluvv/vigil/internal/layout"
	"github.com/kikiluvv/vigil/internal/reporter"
	"github.com/kikiluvv/vigil/internal/video"
	"github.com/kikiluvv/vigil/pkg/util"
	"github.com/rs/zerolog"
)

// DefaultStride keeps every fifth frame.
const DefaultStride = 5

// Extractor writes every stride-th frame of each source video as a JPEG.
type Extractor struct {
	logger   zerolog.Logger
	opener   video.Opener
	writer   video.ImageWriter
	layout   layout.Layout
	stride   int
	reporter reporter.Reporter
}

// New creates an Extractor. A stride below 1 falls back to DefaultStride.
func New(logger zerolog.Logger, opener video.Opener, writer video.ImageWriter, l layout.Layout, stride int, rep reporter.Reporter) *Extractor {
	if stride < 1 {
		stride = DefaultStride
	}
	if rep == nil {
		rep = reporter.NullReporter{}
	}
	return &Extractor{
		logger:   logger.With().Str("component", "extract").Logger(),
		opener:   opener,
		writer:   writer,
		layout:   l,
		stride:   stride,
		reporter: rep,
	}
}

// FrameName returns "<stem>-<index>.jpg" with the index zero-padded to four
// digits.
func FrameName(stem string, index int) string {
	return fmt.Sprintf("%s-%04d.jpg", stem, index)
}

// ExtractVideo reads src to end of stream and writes frames whose index is
// a multiple of the stride into outDir. It returns the number of images
// written. A read error ends the stream the same way end of file does.
func (e *Extractor) ExtractVideo(ctx context.Context, src video.Source, stem, outDir string) (int, error) {
	written := 0
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			e.logger.Debug().Err(err).Str("video", stem).Msg("Read failed, stopping")
			return written, nil
		}

		if frame.Index%e.stride != 0 {
			continue
		}

		path := filepath.Join(outDir, FrameName(stem, frame.Index))
		if err := e.writer.WriteImage(path, frame); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written++
	}
}

// ExtractLabel processes every file in the label's source directory. Files
// that cannot be opened contribute zero images.
func (e *Extractor) ExtractLabel(ctx context.Context, label labels.Label) (int, error) {
	srcDir := e.layout.SourceDir(label)
	outDir := e.layout.FramesDir(label)
	if err := util.EnsureDir(outDir); err != nil {
		return 0, err
	}

	files, err := util.ListFiles(srcDir, nil)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", srcDir, err)
	}

	log := e.logger.With().Str("label", string(label)).Logger()
	log.Info().Int("videos", len(files)).Str("dir", srcDir).Msg("Extracting frames")
	e.reporter.StageProgress(reporter.StageProgress{
		Stage:   "extract",
		Message: fmt.Sprintf("%s: %d videos", label, len(files)),
	})

	total := 0
	for _, path := range files {
		n, err := e.extractFile(ctx, path, outDir)
		if err != nil {
			if ctx.Err() != nil {
				return total, err
			}
			log.Warn().Err(err).Str("video", path).Msg("Extraction failed")
			e.reporter.Warning(fmt.Sprintf("%s: %v", filepath.Base(path), err))
			continue
		}
		if n == 0 {
			log.Warn().Str("video", path).Msg("No frames decoded")
		}
		log.Debug().Str("video", path).Int("frames", n).Msg("Extracted")
		total += n
	}

	e.reporter.StageProgress(reporter.StageProgress{
		Stage:   "extract",
		Message: fmt.Sprintf("%s: %d frames -> %s", label, total, outDir),
	})
	return total, nil
}

func (e *Extractor) extractFile(ctx context.Context, path, outDir string) (int, error) {
	src, err := e.opener.Open(path)
	if err != nil {
		e.logger.Warn().Err(err).Str("video", path).Msg("Cannot open video")
		return 0, nil
	}
	defer src.Close()

	return e.ExtractVideo(ctx, src, util.Stem(path), outDir)
}

// Run extracts frames for every label and returns the per-label counts.
func (e *Extractor) Run(ctx context.Context) (map[labels.Label]int, error) {
	counts := make(map[labels.Label]int, len(labels.All))
	for _, label := range labels.All {
		n, err := e.ExtractLabel(ctx, label)
		if err != nil {
			return counts, fmt.Errorf("extract %s: %w", label, err)
		}
		counts[label] = n
	}
	return counts, nil
}
