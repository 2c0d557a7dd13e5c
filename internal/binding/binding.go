// Package binding discovers which input and output slot names a model
// accepts by trying a priority-ordered table of candidates.
package binding

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrBindingNotFound is returned when every candidate combination is rejected.
var ErrBindingNotFound = errors.New("binding: no candidate slot names accepted")

// Configurer is the part of a model capability the resolver drives. A nil
// error means the combination was accepted and is now active.
type Configurer interface {
	Configure(contentSlot, styleSlot, outputSlot string) error
}

// InputPair names the content and style input slots.
type InputPair struct {
	Content string
	Style   string
}

// Binding is the committed set of slot names used for every inference.
type Binding struct {
	Content string
	Style   string
	Output  string
}

func (b Binding) String() string {
	return fmt.Sprintf("%s,%s -> %s", b.Content, b.Style, b.Output)
}

// Attempt records one rejected combination.
type Attempt struct {
	Binding Binding
	Err     error
}

// NotFoundError aggregates every rejected attempt. It matches
// ErrBindingNotFound with errors.Is and unwraps to the last rejection.
type NotFoundError struct {
	Attempts []Attempt
}

func (e *NotFoundError) Error() string {
	last := e.Last()
	if last == nil {
		return fmt.Sprintf("%s (no candidates)", ErrBindingNotFound)
	}
	return fmt.Sprintf("%s after %d attempts; last error: %v", ErrBindingNotFound, len(e.Attempts), last)
}

// Last returns the reason the final attempt was rejected, or nil when no
// attempt was made.
func (e *NotFoundError) Last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

func (e *NotFoundError) Is(target error) bool { return target == ErrBindingNotFound }

func (e *NotFoundError) Unwrap() error { return e.Last() }

// Resolver walks a candidate table against a Configurer.
type Resolver struct {
	Inputs  []InputPair
	Outputs []string

	// OnReject, when set, observes every rejected attempt.
	OnReject func(Attempt)
	Logger   *slog.Logger
}

// NewResolver builds a resolver from a config-style table where each input
// entry is a [content, style] pair.
func NewResolver(inputs [][]string, outputs []string) (*Resolver, error) {
	pairs := make([]InputPair, 0, len(inputs))
	for i, p := range inputs {
		if len(p) != 2 {
			return nil, fmt.Errorf("binding: input candidate %d has %d names, want 2", i, len(p))
		}
		pairs = append(pairs, InputPair{Content: p[0], Style: p[1]})
	}

	return &Resolver{
		Inputs:  pairs,
		Outputs: append([]string(nil), outputs...),
	}, nil
}

// Resolve tries every (pair, output) combination in table order, pairs in the
// outer loop. The first combination the Configurer accepts is returned and no
// further combination is tried.
func (r *Resolver) Resolve(c Configurer) (Binding, error) {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}

	var attempts []Attempt
	for _, in := range r.Inputs {
		for _, out := range r.Outputs {
			b := Binding{Content: in.Content, Style: in.Style, Output: out}

			log.Debug("trying binding", "content", b.Content, "style", b.Style, "output", b.Output)

			err := c.Configure(b.Content, b.Style, b.Output)
			if err == nil {
				log.Info("binding accepted", "binding", b.String(), "rejected", len(attempts))
				return b, nil
			}

			a := Attempt{Binding: b, Err: err}
			attempts = append(attempts, a)
			log.Warn("binding rejected", "binding", b.String(), "error", err)

			if r.OnReject != nil {
				r.OnReject(a)
			}
		}
	}

	return Binding{}, &NotFoundError{Attempts: attempts}
}

// Summary renders the rejected attempts one per line, for diagnostics.
func (e *NotFoundError) Summary() string {
	var sb strings.Builder
	for _, a := range e.Attempts {
		fmt.Fprintf(&sb, "%s: %v\n", a.Binding, a.Err)
	}
	return sb.String()
}
