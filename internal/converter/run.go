package converter

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
)

// MaxRetainedErrors bounds the error list kept by a run.
const MaxRetainedErrors = 100

// RowError is one captured conversion failure.
type RowError struct {
	Message string    `json:"message"`
	TS      time.Time `json:"ts"`
}

// Errors is the companion error report of a run.
type Errors struct {
	List   []RowError     `json:"errors"`
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

func newErrors() *Errors {
	return &Errors{List: []RowError{}, Counts: map[string]int{}}
}

func (e *Errors) add(msg string, ts time.Time) bool {
	e.Total++
	e.Counts[msg]++
	if len(e.List) < MaxRetainedErrors {
		e.List = append(e.List, RowError{Message: msg, TS: ts})
	}
	return e.Counts[msg] == 1
}

// Messages returns the distinct messages sorted by descending count.
func (e *Errors) Messages() []string {
	out := make([]string, 0, len(e.Counts))
	for m := range e.Counts {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if e.Counts[out[i]] != e.Counts[out[j]] {
			return e.Counts[out[i]] > e.Counts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// Empty reports whether nothing was captured.
func (e *Errors) Empty() bool { return e == nil || e.Total == 0 }

type emitError struct{ err error }

func (e emitError) Error() string { return e.err.Error() }
func (e emitError) Unwrap() error { return e.err }

// trackedSource counts pulls so Run can tell whether a failed Transform
// consumed input.
type trackedSource struct {
	Source
	pulled int
}

func (t *trackedSource) Next() bool {
	ok := t.Source.Next()
	if ok {
		t.pulled++
	}
	return ok
}

// Buffered is implemented by converters that hold state across packets.
// Run keeps restarting such a converter after a failure while it still has
// buffered output, even when the source is exhausted.
type Buffered interface {
	Pending() bool
}

// Runner executes converters with error isolation.
type Runner struct {
	log     *zap.Logger
	onError func(name string)
}

type RunnerOption func(*Runner)

// WithErrorHook is called once per captured row error.
func WithErrorHook(fn func(name string)) RunnerOption {
	return func(r *Runner) { r.onError = fn }
}

func NewRunner(log *zap.Logger, opts ...RunnerOption) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runner{log: log.Named("converter")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run streams c over in. A Transform failure is recorded, the packet that
// caused it is skipped and Transform is called again on the same source.
// Failures of emit, of the source itself and context cancellation end the
// run and are returned.
func (r *Runner) Run(ctx context.Context, name string, c Converter, in Source, emit func(Row) error) (*Errors, error) {
	errs := newErrors()
	src := &trackedSource{Source: in}
	wrapped := func(row Row) error {
		if err := emit(row); err != nil {
			return emitError{err: err}
		}
		return nil
	}

	for {
		before := src.pulled
		err := c.Transform(ctx, src, wrapped)
		if err == nil {
			return errs, nil
		}
		var ee emitError
		if errors.As(err, &ee) {
			return errs, ee.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errs, ctxErr
		}
		if srcErr := in.Err(); srcErr != nil {
			return errs, srcErr
		}

		msg := err.Error()
		if errs.add(msg, src.Packet().TS) {
			r.log.Warn("converter row error",
				zap.String("converter", name),
				zap.String("error", msg),
			)
		}
		if r.onError != nil {
			r.onError(name)
		}
		if src.pulled == before && !pending(c) {
			// Transform failed without reading anything; another call
			// would fail the same way.
			return errs, nil
		}
	}
}

func pending(c Converter) bool {
	b, ok := c.(Buffered)
	return ok && b.Pending()
}

// Collect runs c over in and returns every emitted row.
func (r *Runner) Collect(ctx context.Context, name string, c Converter, in Source) ([]Row, *Errors, error) {
	var rows []Row
	errs, err := r.Run(ctx, name, c, in, func(row Row) error {
		rows = append(rows, row)
		return nil
	})
	return rows, errs, err
}
