package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Options struct {
	ErrorLogging   bool
	SuccessLogging bool
}

// Writer appends records to the log files of one run directory. Files are
// opened per write so a crashed run keeps everything written so far.
type Writer struct {
	dir    string
	opts   Options
	logger *zap.SugaredLogger

	mu          sync.Mutex
	successN    int
	errorN      int
	inestimable int
}

func NewWriter(dir string, opts Options, logger *zap.SugaredLogger) *Writer {
	return &Writer{dir: dir, opts: opts, logger: logger}
}

func (w *Writer) Dir() string { return w.dir }

func (w *Writer) appendTo(name string, write func(f *os.File) error) error {
	path := filepath.Join(w.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "unable to open %s", path)
	}
	if err := write(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}

// Evaluation logs a scored estimate to the success or error log if that
// category is enabled.
func (w *Writer) Evaluation(rec Record, accepted bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if accepted && !w.opts.SuccessLogging || !accepted && !w.opts.ErrorLogging {
		return nil
	}
	name, counter := ErrorLog, &w.errorN
	if accepted {
		name, counter = SuccessLog, &w.successN
	}
	err := w.appendTo(name, func(f *os.File) error { return rec.WriteTo(f, *counter) })
	if err != nil {
		return err
	}
	*counter++
	return nil
}

func (w *Writer) Inestimable(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.appendTo(InestimableLog, func(f *os.File) error { return rec.WriteTo(f, w.inestimable) })
	if err != nil {
		return err
	}
	w.inestimable++
	return nil
}

// TimeToSteady appends one measurement in seconds.
func (w *Writer) TimeToSteady(d time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logger.Debugw("time to steady", "seconds", d.Seconds())
	return w.appendTo(TimeToSteadyLog, func(f *os.File) error {
		_, err := fmt.Fprintf(f, "%g\n", d.Seconds())
		return err
	})
}

// SuccessRun appends the length of a run of consecutive successes.
func (w *Writer) SuccessRun(n int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendTo(SuccessBetweenFail, func(f *os.File) error {
		_, err := fmt.Fprintf(f, "%d\n", n)
		return err
	})
}
