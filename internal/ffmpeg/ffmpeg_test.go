package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH - install with: brew install ffmpeg")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH - install with: brew install ffmpeg")
	}
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	skipIfNoFFmpeg(t)

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	e, err := New(logger, 2)
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	return e
}

// synthVideo renders a short lavfi test pattern, optionally with a tone.
func synthVideo(t *testing.T, e *Executor, path string, withAudio bool) {
	t.Helper()
	args := []string{"-f", "lavfi", "-i", "testsrc=size=320x240:rate=25:duration=1"}
	if withAudio {
		args = append(args, "-f", "lavfi", "-i", "sine=frequency=440:duration=1", "-c:a", "aac")
	}
	args = append(args, "-c:v", "mpeg4", "-shortest", path)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Run(ctx, RunOptions{Args: args}); err != nil {
		t.Fatalf("failed to synthesize %s: %v", path, err)
	}
}

func TestExecutorCreation(t *testing.T) {
	e := newTestExecutor(t)
	if e.ffmpegPath == "" {
		t.Error("ffmpeg path is empty")
	}
	if e.ffprobePath == "" {
		t.Error("ffprobe path is empty")
	}
	if !Available() {
		t.Error("Available should be true when executor was created")
	}
}

func TestProbeVideo(t *testing.T) {
	e := newTestExecutor(t)
	path := filepath.Join(t.TempDir(), "source.avi")
	synthVideo(t, e, path, true)

	info, err := e.ProbeVideo(context.Background(), path)
	if err != nil {
		t.Fatalf("ProbeVideo failed: %v", err)
	}
	if info.Width != 320 || info.Height != 240 {
		t.Errorf("expected 320x240, got %dx%d", info.Width, info.Height)
	}
	if info.FPS < 24.9 || info.FPS > 25.1 {
		t.Errorf("expected 25 fps, got %.2f", info.FPS)
	}
	if !info.HasAudio {
		t.Error("expected an audio stream")
	}

	fps, err := e.ProbeFPS(path)
	if err != nil || fps < 24.9 {
		t.Errorf("ProbeFPS = %.2f, %v", fps, err)
	}
}

func TestProbeVideoInvalidFile(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	if _, err := e.ProbeVideo(ctx, "nonexistent.mp4"); err == nil {
		t.Error("ProbeVideo should fail for non-existent file")
	}

	invalidPath := filepath.Join(t.TempDir(), "invalid.txt")
	if err := os.WriteFile(invalidPath, []byte("not a video"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ProbeVideo(ctx, invalidPath); err == nil {
		t.Error("ProbeVideo should fail for invalid video file")
	}
}

func TestRemux(t *testing.T) {
	e := newTestExecutor(t)
	dir := t.TempDir()
	source := filepath.Join(dir, "source.avi")
	annotated := filepath.Join(dir, "annotated.avi")
	output := filepath.Join(dir, "processed_source.mp4")
	synthVideo(t, e, source, true)
	synthVideo(t, e, annotated, false)

	var frames int
	err := e.Remux(context.Background(), RemuxOptions{
		Annotated:    annotated,
		Source:       source,
		Output:       output,
		Preset:       "ultrafast",
		ProgressFunc: func(p *Progress) { frames = p.Frame },
	})
	if err != nil {
		t.Fatalf("Remux failed: %v", err)
	}

	info, err := e.ProbeVideo(context.Background(), output)
	if err != nil {
		t.Fatalf("ProbeVideo failed: %v", err)
	}
	if info.VideoCodec != "h264" {
		t.Errorf("expected h264, got %s", info.VideoCodec)
	}
	if !info.HasAudio {
		t.Error("expected audio copied from source")
	}
	if info.Width != 320 || info.Height != 240 {
		t.Errorf("expected 320x240, got %dx%d", info.Width, info.Height)
	}
	t.Logf("remux reported %d frames", frames)
}

func TestBuildRemuxArgs(t *testing.T) {
	args, err := buildRemuxArgs(RemuxOptions{Annotated: "a.avi", Source: "s.mp4", Output: "o.mp4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{"-i a.avi -i s.mp4", "-map 0:v:0 -map 1:a:0?", "-c:v libx264", "-crf 23", "-preset medium", "o.mp4"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}

	args, err = buildRemuxArgs(RemuxOptions{Annotated: "a.avi", Output: "o.mp4", CRF: 18})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined = strings.Join(args, " ")
	if strings.Contains(joined, "1:a:0") {
		t.Errorf("no source given but audio mapped: %q", joined)
	}
	if !strings.Contains(joined, "-crf 18") {
		t.Errorf("custom crf ignored: %q", joined)
	}

	if _, err := buildRemuxArgs(RemuxOptions{Annotated: "a.avi", Output: "a.avi"}); err == nil {
		t.Error("expected error when output overwrites input")
	}
	if _, err := buildRemuxArgs(RemuxOptions{Output: "o.mp4"}); err == nil {
		t.Error("expected error without annotated input")
	}
}

func TestStreamOutput(t *testing.T) {
	e := &Executor{logger: zerolog.Nop()}
	input := strings.Join([]string{
		"frame=10", "fps=24.5", "bitrate=100kbits/s", "time=00:00:00.40", "speed=1.5x", "progress=continue",
		"frame=25", "fps=25.0", "progress=end",
	}, "\n")

	var got []Progress
	var lines int
	e.streamOutput(strings.NewReader(input), func(p *Progress) { got = append(got, *p) }, func(string) { lines++ })

	if len(got) != 2 {
		t.Fatalf("expected 2 progress blocks, got %d", len(got))
	}
	if got[0].Frame != 10 || got[0].Speed != "1.5x" || got[0].Time != "00:00:00.40" {
		t.Errorf("unexpected first block: %+v", got[0])
	}
	if got[1].Frame != 25 || got[1].FPS != 25.0 {
		t.Errorf("unexpected second block: %+v", got[1])
	}
	if lines != 9 {
		t.Errorf("expected 9 log lines, got %d", lines)
	}
}

func TestParseProbe(t *testing.T) {
	raw := []byte(`{"format":{"duration":"2.5","bit_rate":"1000"},"streams":[
		{"codec_type":"video","codec_name":"mpeg4","width":640,"height":360,"r_frame_rate":"30/1","avg_frame_rate":"0/0","nb_frames":"75"},
		{"codec_type":"audio","codec_name":"aac"}]}`)

	info, err := parseProbe("x.avi", raw)
	if err != nil {
		t.Fatalf("parseProbe failed: %v", err)
	}
	if info.FPS != 30 {
		t.Errorf("expected fallback to r_frame_rate 30, got %.2f", info.FPS)
	}
	if info.FrameCount != 75 || !info.HasAudio || info.Duration != 2500*time.Millisecond {
		t.Errorf("unexpected info: %+v", info)
	}

	if _, err := parseProbe("a.aac", []byte(`{"streams":[{"codec_type":"audio"}]}`)); err == nil {
		t.Error("expected error for audio-only input")
	}
}

func TestFilterBuilderEmpty(t *testing.T) {
	if filter := NewFilterBuilder().PixelFormat("").Build(); filter != "" {
		t.Errorf("expected empty string, got %q", filter)
	}
}

func TestFilterBuilderEvenDimensions(t *testing.T) {
	filter := NewFilterBuilder().EvenDimensions().PixelFormat(DefaultPixFmt).Build()

	expected := "scale=trunc(iw/2)*2:trunc(ih/2)*2,format=yuv420p"
	if filter != expected {
		t.Errorf("expected %q, got %q", expected, filter)
	}
}
