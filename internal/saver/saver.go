package saver

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"webp-shrink/internal/converter"
	"webp-shrink/internal/logger"
	"webp-shrink/internal/metrics"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ErrUserCanceled is returned by a Dialog when the user dismisses it.
var ErrUserCanceled = errors.New("save canceled")

var imageExt = regexp.MustCompile(`(?i)\.(jpg|jpeg|png)$`)

// OutputName derives the WebP file name from a source name. Only a trailing
// .jpg, .jpeg or .png (any case) is replaced; other names are returned as is.
func OutputName(name string) string {
	return imageExt.ReplaceAllString(name, ".webp")
}

// Dialog chooses where converted files are written.
type Dialog interface {
	// ChooseSaveDestination returns the path for a single file.
	ChooseSaveDestination(suggestedName string) (string, error)
	// ChooseSaveDirectory returns the directory for a save-all.
	ChooseSaveDirectory() (string, error)
}

// WriteError reports an output file that could not be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// SaveResult describes the save of one converted file.
type SaveResult struct {
	SourceName string `json:"source_name" yaml:"source_name"`
	FileName   string `json:"file_name" yaml:"file_name"`
	Path       string `json:"path,omitempty" yaml:"path,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
	Canceled   bool   `json:"canceled,omitempty" yaml:"canceled,omitempty"`

	Err error `json:"-" yaml:"-"`
}

// Success reports whether the file was written.
func (r SaveResult) Success() bool {
	return r.Err == nil && !r.Canceled
}

// SaveAllResult describes a save-all into one directory.
type SaveAllResult struct {
	Directory string       `json:"directory" yaml:"directory"`
	Results   []SaveResult `json:"results" yaml:"results"`
	Canceled  bool         `json:"canceled,omitempty" yaml:"canceled,omitempty"`
}

// Saved returns how many files were written.
func (r SaveAllResult) Saved() int {
	n := 0
	for _, res := range r.Results {
		if res.Success() {
			n++
		}
	}
	return n
}

// Saver writes converted outcomes through an afero filesystem.
type Saver struct {
	fs        afero.Fs
	logger    *logrus.Logger
	overwrite bool
	observer  metrics.Observer
}

// NewSaver returns a Saver. When overwrite is false, save-all picks a free
// name instead of replacing an existing file.
func NewSaver(fs afero.Fs, log *logrus.Logger, overwrite bool) *Saver {
	return &Saver{fs: fs, logger: log, overwrite: overwrite, observer: metrics.Nop{}}
}

// SetObserver installs a metrics observer.
func (s *Saver) SetObserver(o metrics.Observer) {
	if o == nil {
		o = metrics.Nop{}
	}
	s.observer = o
}

// SaveOne asks the dialog for a destination and writes a single outcome there.
// A dismissed dialog yields a Canceled result and no error.
func (s *Saver) SaveOne(out converter.Outcome, dialog Dialog) (SaveResult, error) {
	if !out.Success() {
		return SaveResult{}, fmt.Errorf("%s has no converted output", out.OriginalName)
	}

	name := OutputName(out.OriginalName)
	res := SaveResult{SourceName: out.OriginalName, FileName: name}

	dest, err := dialog.ChooseSaveDestination(name)
	if errors.Is(err, ErrUserCanceled) {
		logger.WithFile(s.logger, out.Path).Info("Save canceled")
		res.Canceled = true
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("choose save destination: %w", err)
	}

	res.Path = dest
	res.FileName = filepath.Base(dest)
	if err := s.write(dest, out.Result.Output); err != nil {
		res.Err = err
		res.Error = err.Error()
		return res, err
	}
	return res, nil
}

// SaveAll writes every successful outcome of the batch into directory, asking
// the dialog when directory is empty. Per-file write failures are reported in
// the result and do not stop the remaining files.
func (s *Saver) SaveAll(state converter.BatchState, directory string, dialog Dialog) (SaveAllResult, error) {
	if directory == "" {
		if dialog == nil {
			return SaveAllResult{}, errors.New("no output directory given")
		}
		dir, err := dialog.ChooseSaveDirectory()
		if errors.Is(err, ErrUserCanceled) {
			logger.WithBatch(s.logger, state.ID).Info("Save all canceled")
			return SaveAllResult{Canceled: true}, nil
		}
		if err != nil {
			return SaveAllResult{}, fmt.Errorf("choose save directory: %w", err)
		}
		directory = dir
	}

	if ok, _ := afero.DirExists(s.fs, directory); !ok {
		if err := s.fs.MkdirAll(directory, 0755); err != nil {
			return SaveAllResult{}, &WriteError{Path: directory, Err: err}
		}
	}

	result := SaveAllResult{Directory: directory}
	for _, out := range state.Successful() {
		name := OutputName(out.OriginalName)
		path := filepath.Join(directory, name)
		if !s.overwrite {
			path = s.uniquePath(path)
		}

		res := SaveResult{SourceName: out.OriginalName, FileName: filepath.Base(path), Path: path}
		if err := s.write(path, out.Result.Output); err != nil {
			res.Err = err
			res.Error = err.Error()
			if state.Stats != nil {
				state.Stats.IncrementSaveErrors()
				state.Stats.AddError(out.Path, "save", err.Error())
			}
		} else if state.Stats != nil {
			state.Stats.IncrementFilesSaved()
		}
		result.Results = append(result.Results, res)
	}

	logger.WithBatch(s.logger, state.ID).WithFields(logrus.Fields{
		"directory": directory,
		"saved":     result.Saved(),
		"total":     len(result.Results),
	}).Info("Saved converted files")

	return result, nil
}

func (s *Saver) write(path string, data []byte) error {
	err := afero.WriteFile(s.fs, path, data, 0644)
	s.observer.RecordSave(err)
	if err != nil {
		logger.WithFileOperation(s.logger, path, "save").Errorf("Could not write file: %v", err)
		return &WriteError{Path: path, Err: err}
	}
	logger.WithFileOperation(s.logger, path, "save").Debug("Wrote file")
	return nil
}

// uniquePath returns path, or path with a _N counter before the extension
// when something already exists there. A name whose existence cannot be
// checked is returned as is so the write reports the failure.
func (s *Saver) uniquePath(path string) string {
	if !s.exists(path) {
		return path
	}

	dir := filepath.Dir(path)
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	nameWithoutExt := strings.TrimSuffix(name, ext)

	for counter := 1; ; counter++ {
		newPath := filepath.Join(dir, fmt.Sprintf("%s_%d%s", nameWithoutExt, counter, ext))
		if !s.exists(newPath) {
			return newPath
		}
	}
}

func (s *Saver) exists(path string) bool {
	ok, err := afero.Exists(s.fs, path)
	if err != nil {
		logger.WithFileOperation(s.logger, path, "save").Debugf("Could not check file: %v", err)
		return false
	}
	return ok
}
