package batch

import (
	"context"
	"io"

	"github.com/charmbracelet/log"

	"nativepatch/internal/config"
	"nativepatch/internal/patch"
	"nativepatch/internal/program"
)

// StatusOpenFailed marks a library that could not be loaded.
const StatusOpenFailed = "open-failed"

// Result is the outcome for one library.
type Result struct {
	Path     string          `json:"path"`
	Name     string          `json:"name"`
	Status   string          `json:"status"`
	Function string          `json:"function,omitempty"`
	Patched  bool            `json:"patched"`
	Exported bool            `json:"exported"`
	Attempts []patch.Attempt `json:"attempts,omitempty"`
	Err      string          `json:"error,omitempty"`
}

// Failed reports a load or export failure.
func (r Result) Failed() bool {
	return r.Status == StatusOpenFailed || r.Status == patch.StatusExportFailed.String()
}

// Summary counts results by outcome.
type Summary struct {
	Total     int `json:"total"`
	Patched   int `json:"patched"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Report collects every result of a run.
type Report struct {
	DryRun  bool     `json:"dryRun"`
	Results []Result `json:"results"`
	Summary Summary  `json:"summary"`
}

// Failed reports whether any library failed to load or export.
func (r *Report) Failed() bool { return r.Summary.Failed > 0 }

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	r.Summary.Total++
	switch {
	case res.Failed():
		r.Summary.Failed++
	case res.Patched:
		r.Summary.Patched++
	case res.Status == patch.StatusUnchanged.String():
		r.Summary.Unchanged++
	default:
		r.Summary.Skipped++
	}
}

// Event is delivered before (Result nil) and after each library.
type Event struct {
	Index  int
	Total  int
	Path   string
	Result *Result
}

// Runner patches libraries one after another with a shared configuration.
type Runner struct {
	cfg    config.Config
	logger *log.Logger
	notify func(Event)
}

type Option func(*Runner)

// WithNotify registers a progress callback. It runs on the Run goroutine.
func WithNotify(fn func(Event)) Option {
	return func(r *Runner) { r.notify = fn }
}

func NewRunner(cfg config.Config, logger *log.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	r := &Runner{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes paths in order. It stops between libraries when ctx is
// done and returns the partial report with ctx.Err().
func (r *Runner) Run(ctx context.Context, paths []string) (*Report, error) {
	report := &Report{DryRun: r.cfg.DryRun, Results: make([]Result, 0, len(paths))}
	policy := r.cfg.Policy()
	session := patch.NewSession(policy, r.exporter(), r.logger)

	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r.emit(Event{Index: i, Total: len(paths), Path: path})
		res := r.one(session, path)
		report.add(res)
		r.emit(Event{Index: i, Total: len(paths), Path: path, Result: &res})
	}
	return report, nil
}

func (r *Runner) one(session *patch.Session, path string) Result {
	p, err := program.Open(path)
	if err != nil {
		r.logger.Error("Could not load library", "path", path, "err", err)
		return Result{Path: path, Status: StatusOpenFailed, Err: err.Error()}
	}
	defer p.Close()

	out := session.Run(p)
	res := Result{
		Path:     path,
		Name:     out.Program,
		Status:   out.Status.String(),
		Function: out.Function.Name,
		Patched:  out.Patched,
		Exported: out.Exported,
		Attempts: out.Attempts,
	}
	if out.Err != nil {
		res.Err = out.Err.Error()
	}
	return res
}

func (r *Runner) exporter() patch.Exporter {
	if r.cfg.DryRun {
		return program.DryRunExporter{Logger: r.logger}
	}
	return program.FileExporter{Backup: r.cfg.Backup}
}

func (r *Runner) emit(ev Event) {
	if r.notify != nil {
		r.notify(ev)
	}
}
