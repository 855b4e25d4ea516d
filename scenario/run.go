package scenario

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/composition/channel"
	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
)

// Entry is one line of a run trace. A step that reads several messages
// contributes one entry per message.
type Entry struct {
	Step   int    `json:"step"`
	Op     string `json:"op"`
	Detail string `json:"detail"`
}

// Result is the trace of a run.
type Result struct {
	Name  string  `json:"name"`
	Trace []Entry `json:"trace"`
}

// Render formats the trace one entry per line.
func (r *Result) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s\n", r.Name)
	for _, e := range r.Trace {
		fmt.Fprintf(&b, "%02d %s %s\n", e.Step, e.Op, e.Detail)
	}
	return b.String()
}

// Option configures Run and NewRunner.
type Option func(*options)

type options struct {
	session      []channel.SessionOption
	flushTimeout time.Duration
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSessionOptions passes options to the session Run opens.
func WithSessionOptions(opts ...channel.SessionOption) Option {
	return func(o *options) {
		o.session = append(o.session, opts...)
	}
}

// WithFlushTimeout bounds each sync_flush step. Zero leaves the bound to
// the caller's context.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *options) {
		o.flushTimeout = d
	}
}

// Run executes sc on a fresh session of eng. The session and every channel
// it opened are closed before Run returns. On a failed step the partial
// trace is returned together with the error.
func Run(ctx context.Context, sc *Scenario, eng engine.Engine, opts ...Option) (res *Result, err error) {
	if sc == nil {
		return nil, errors.InvalidInput(errors.PhaseScenario, "nil scenario")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	s, err := channel.NewSession(eng, o.session...)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, s.Close())
	}()

	r := newRunner(s, sc.Name, o)
	res = &Result{Name: sc.Name}
	for i, st := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := r.Exec(ctx, st); err != nil {
			r.log.Debug("step failed", zap.Int("step", i), zap.String("op", st.Op), zap.Error(err))
			res.Trace = r.trace
			return res, errors.New(errors.PhaseScenario, kindOr(err, errors.KindFailure)).
				Path(sc.Name, fmt.Sprint(i), st.Op).
				Cause(err).
				Build()
		}
	}
	res.Trace = r.trace
	return res, nil
}

func kindOr(err error, fallback errors.Kind) errors.Kind {
	if k := errors.KindOf(err); k != "" {
		return k
	}
	return fallback
}
