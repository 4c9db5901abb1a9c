// Package layout derives the on-disk directory contract shared by every
// stage of the pipeline.
package layout

import (
	"fmt"
	"path/filepath"

	"github.com/kikiluvv/vigil/internal/labels"
	"github.com/kikiluvv/vigil/pkg/util"
)

const (
	ReportName     = "violence_detection_report.txt"
	OutputPrefix   = "processed_"
	framesDirName  = "frames"
	datasetDirName = "dataset"
	inputDirName   = "input"
	outputDirName  = "output"
	modelDirName   = "model"
	logsDirName    = "logs"
)

// Layout resolves pipeline paths under a base directory.
type Layout struct {
	Base string
}

// New returns the layout rooted at base.
func New(base string) Layout {
	if base == "" {
		base = "."
	}
	return Layout{Base: base}
}

func (l Layout) DatasetDir() string { return filepath.Join(l.Base, datasetDirName) }
func (l Layout) FramesRoot() string { return filepath.Join(l.DatasetDir(), framesDirName) }
func (l Layout) InputDir() string   { return filepath.Join(l.Base, inputDirName) }
func (l Layout) OutputDir() string  { return filepath.Join(l.Base, outputDirName) }
func (l Layout) ModelDir() string   { return filepath.Join(l.Base, modelDirName) }
func (l Layout) LogsDir() string    { return filepath.Join(l.Base, logsDirName) }
func (l Layout) ReportPath() string { return filepath.Join(l.Base, ReportName) }

// SourceDir holds the labeled training videos for label.
func (l Layout) SourceDir(label labels.Label) string {
	return filepath.Join(l.DatasetDir(), string(label))
}

// FramesDir holds the sampled stills for label.
func (l Layout) FramesDir(label labels.Label) string {
	return filepath.Join(l.FramesRoot(), string(label))
}

// OutputVideoPath is where the annotated copy of src is written.
func (l Layout) OutputVideoPath(src string) string {
	return filepath.Join(l.OutputDir(), OutputPrefix+filepath.Base(src))
}

// Dirs lists every directory Ensure creates.
func (l Layout) Dirs() []string {
	dirs := []string{l.DatasetDir()}
	for _, label := range labels.All {
		dirs = append(dirs, l.SourceDir(label))
	}
	for _, label := range labels.All {
		dirs = append(dirs, l.FramesDir(label))
	}
	return append(dirs, l.InputDir(), l.OutputDir(), l.ModelDir(), l.LogsDir())
}

// Ensure creates the directory tree. Existing directories are left as is.
func (l Layout) Ensure() error {
	for _, dir := range l.Dirs() {
		if err := util.EnsureDir(dir); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
