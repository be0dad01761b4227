package converter

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"webp-shrink/internal/config"
	"webp-shrink/internal/encoder"
	"webp-shrink/internal/logger"
	"webp-shrink/internal/metrics"
	"webp-shrink/internal/statistics"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Converter drives size-constrained WebP conversion over a batch of files.
type Converter struct {
	config     *config.Config
	fs         afero.Fs
	logger     *logrus.Logger
	compressor encoder.Compressor
	encoder    *encoder.SizeConstrainedEncoder
	workers    int
	observer   metrics.Observer

	progress   ProgressFunc
	progressMu sync.Mutex
}

// resetter is implemented by compressors that cache work between calls.
type resetter interface {
	Reset()
}

// NewConverter returns a new Converter reading input through fs.
func NewConverter(
	cfg *config.Config,
	fs afero.Fs,
	log *logrus.Logger,
	compressor encoder.Compressor,
) *Converter {
	return NewConverterWithProgress(cfg, fs, log, compressor, nil)
}

// NewConverterWithProgress also reports every finished file to progress.
func NewConverterWithProgress(
	cfg *config.Config,
	fs afero.Fs,
	log *logrus.Logger,
	compressor encoder.Compressor,
	progress ProgressFunc,
) *Converter {
	workers := cfg.Performance.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Converter{
		config:     cfg,
		fs:         fs,
		logger:     log,
		compressor: compressor,
		encoder:    encoder.NewSizeConstrainedEncoder(compressor, log),
		workers:    workers,
		observer:   metrics.Nop{},
		progress:   progress,
	}
}

// SetObserver installs a metrics observer.
func (c *Converter) SetObserver(o metrics.Observer) {
	if o == nil {
		o = metrics.Nop{}
	}
	c.observer = o
}

// DefaultParams returns the search settings from configuration.
func (c *Converter) DefaultParams() Params {
	return Params{
		TargetSizeKB: c.config.Conversion.TargetSizeKB,
		MinQuality:   c.config.Conversion.MinQuality,
		MaxQuality:   c.config.Conversion.MaxQuality,
	}
}

// ConvertBatch converts every path and returns one outcome per path in
// input order. Individual failures never stop the batch.
func (c *Converter) ConvertBatch(paths []string, params Params) []Outcome {
	return c.Convert(NewBatchState(paths, params)).Outcomes
}

// Convert runs the convert stage of a batch and returns the updated state.
func (c *Converter) Convert(state BatchState) BatchState {
	if state.Stats == nil {
		state.Stats = statistics.NewStatistics()
	}
	log := logger.WithBatch(c.logger, state.ID)
	log.WithFields(logrus.Fields{
		"files":          len(state.Files),
		"target_size_kb": state.Params.TargetSizeKB,
		"min_quality":    state.Params.MinQuality,
		"max_quality":    state.Params.MaxQuality,
		"workers":        c.workers,
	}).Info("Starting conversion batch")

	state.Stats.StartTime = time.Now()
	state.Stats.SetFilesSelected(len(state.Files))

	if c.workers > 1 && len(state.Files) > 1 {
		state.Outcomes = c.processParallel(state)
	} else {
		state.Outcomes = c.processSequential(state)
	}
	if r, ok := c.compressor.(resetter); ok {
		r.Reset()
	}

	state.Stats.Finalize()
	log.WithFields(logrus.Fields{
		"converted": state.Stats.GetFilesConverted(),
		"errors":    state.Stats.GetFilesWithErrors(),
		"duration":  state.Stats.GetDuration().String(),
	}).Info("Conversion batch completed")

	return state
}

// processSequential converts files one after another.
func (c *Converter) processSequential(state BatchState) []Outcome {
	outcomes := make([]Outcome, len(state.Files))
	var completed int
	for i, path := range state.Files {
		outcomes[i] = c.ConvertFile(i, path, state.Params, state.Stats)
		c.report(state, &completed, outcomes[i])
	}
	return outcomes
}

// processParallel fans files out over the worker pool and reassembles the
// outcomes by input index.
func (c *Converter) processParallel(state BatchState) []Outcome {
	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(state.Files))
	results := make(chan Outcome, len(state.Files))

	var completed int

	var wg sync.WaitGroup
	workers := min(c.workers, len(state.Files))
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				out := c.ConvertFile(j.index, j.path, state.Params, state.Stats)
				c.report(state, &completed, out)
				results <- out
			}
		}()
	}

	for i, path := range state.Files {
		jobs <- job{index: i, path: path}
	}
	close(jobs)

	wg.Wait()
	close(results)

	outcomes := make([]Outcome, len(state.Files))
	for r := range results {
		outcomes[r.Index] = r
	}
	return outcomes
}

// ConvertFile reads and converts a single file. Errors are folded into the
// returned Outcome.
func (c *Converter) ConvertFile(index int, path string, params Params, stats *statistics.Statistics) Outcome {
	start := time.Now()
	log := logger.WithFileOperation(c.logger, path, "convert")
	log.Debug("Processing file")
	stats.IncrementFilesProcessed()

	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return c.fail(index, path, &ReadError{Path: path, Err: err}, start, stats, log)
	}
	stats.AddBytesProcessed(int64(len(data)))
	stats.IncrementFileType(strings.ToUpper(strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")))

	res, err := c.encoder.WithLogger(log).Encode(params.request(data))
	if err != nil {
		return c.fail(index, path, err, start, stats, log)
	}

	c.observer.RecordConversion(time.Since(start), len(res.Attempts), res.OriginalBytes, res.FinalBytes, nil)
	stats.RecordConversion(res.OriginalSizeKB, res.FinalSizeKB, len(res.Attempts), res.TargetMet)

	entry := log.WithFields(logrus.Fields{
		"original_kb": res.OriginalSizeKB,
		"final_kb":    res.FinalSizeKB,
		"savings":     res.SavingsPercent,
		"quality":     res.QualityUsed,
		"attempts":    len(res.Attempts),
	})
	if res.TargetMet {
		entry.Info("Converted file")
	} else {
		entry.Warn("Converted file above target size at minimum quality")
	}

	return Outcome{
		Index:        index,
		Path:         path,
		OriginalName: filepath.Base(path),
		Result:       res,
	}
}

func (c *Converter) fail(index int, path string, err error, start time.Time, stats *statistics.Statistics, log *logrus.Entry) Outcome {
	out := failed(index, path, err)
	c.observer.RecordConversion(time.Since(start), 0, 0, 0, err)
	stats.IncrementFilesWithErrors()
	stats.AddError(path, string(out.Kind), err.Error())
	log.WithField("kind", out.Kind).Warnf("Could not convert file: %v", err)
	return out
}

// report counts out as completed and forwards progress to the configured
// ProgressFunc, one call at a time.
func (c *Converter) report(state BatchState, completed *int, out Outcome) {
	c.progressMu.Lock()
	defer c.progressMu.Unlock()
	*completed++
	if c.progress == nil {
		return
	}
	c.progress(Progress{
		BatchID:   state.ID,
		Completed: *completed,
		Total:     len(state.Files),
		Outcome:   out,
	})
}
