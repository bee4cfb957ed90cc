// Package resolver implements the Resource & Alias Resolver (spec
// §4.6): lexing of @name / @name(arg) tokens in user text, concurrent
// but deterministically merged resolution against a registry of
// providers, and assembly of a context section sized against a token
// budget.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fenwick-labs/agentengine/memory"
	"github.com/fenwick-labs/agentengine/registry"
)

// Definition is a registered alias provider.
type Definition struct {
	Name       string
	HasArgs    bool
	ArgPattern *regexp.Regexp
	Resolve    func(ctx context.Context, arg string) (string, error)
}

// Registry is the Definition registry the resolver consults. It is a
// type alias over the shared generic registry so callers can plug in
// their own resource providers with the same Register/Get surface
// used throughout the engine.
type Registry = registry.Registry[Definition]

// NewRegistry constructs an empty alias registry.
func NewRegistry() *registry.BaseRegistry[Definition] {
	return registry.NewBaseRegistry[Definition]()
}

// ErrorPolicy controls how resolution failures are handled (spec
// §4.6 step 3).
type ErrorPolicy struct {
	FailFast  bool
	Fallbacks map[string]string // alias name -> fallback text
	Skip      bool
	OnError   func(aliasName string, err error)
}

// Options configures one resolution pass.
type Options struct {
	Retries            int           // default 2
	Timeout            time.Duration // default 500ms
	ResourceBudgetRatio float64      // default 0.10 of remaining budget
	ErrorPolicy        ErrorPolicy
}

// DefaultOptions returns the spec §4.6 defaults.
func DefaultOptions() Options {
	return Options{
		Retries:             2,
		Timeout:             500 * time.Millisecond,
		ResourceBudgetRatio: 0.10,
	}
}

// token is one lexed occurrence of an alias in the source text.
type token struct {
	name string
	arg  string
	// span is the literal substring matched in the source, replaced
	// verbatim during substitution.
	span string
}

var aliasTokenRe = regexp.MustCompile(`@@|@([a-zA-Z_][a-zA-Z0-9_]*)(\(([^)]*)\))?`)

// lex scans text for alias tokens, honoring the @@ escape (which
// lexes to a literal "@" and disables alias expansion at that
// position).
func lex(text string) []token {
	matches := aliasTokenRe.FindAllStringSubmatch(text, -1)
	tokens := make([]token, 0, len(matches))
	for _, m := range matches {
		if m[0] == "@@" {
			continue
		}
		tokens = append(tokens, token{name: m[1], arg: m[3], span: m[0]})
	}
	return tokens
}

// ResolutionError records a single alias's resolution failure.
type ResolutionError struct {
	Alias string
	Err   error
}

// Result is one resolution pass's outcome.
type Result struct {
	ResolvedText  string            // source text with aliases substituted
	ContextBlock  string            // assembled "resources" context section
	Values        map[string]string // alias name -> resolved text
	Errors        []ResolutionError
	FailedFast    bool
}

// Resolve expands every alias token in text against reg, honoring
// opts.ErrorPolicy and opts.Retries/Timeout per call. Unique aliases
// resolve concurrently; results are merged back in the order aliases
// first appear in text, so output is deterministic regardless of
// goroutine completion order.
func Resolve(ctx context.Context, text string, reg Registry, opts Options) Result {
	tokens := lex(text)
	if len(tokens) == 0 {
		return Result{ResolvedText: unescape(text), Values: map[string]string{}}
	}

	uniqueOrder := make([]string, 0, len(tokens))
	seen := map[string]token{}
	for _, tk := range tokens {
		key := tk.name + "(" + tk.arg + ")"
		if _, ok := seen[key]; !ok {
			seen[key] = tk
			uniqueOrder = append(uniqueOrder, key)
		}
	}

	type resolved struct {
		key  string
		text string
		err  error
	}

	results := make([]resolved, len(uniqueOrder))
	var wg sync.WaitGroup
	for i, key := range uniqueOrder {
		tk := seen[key]
		wg.Add(1)
		go func(i int, tk token) {
			defer wg.Done()
			text, err := resolveOne(ctx, reg, tk, opts)
			results[i] = resolved{key: tk.name + "(" + tk.arg + ")", text: text, err: err}
		}(i, tk)
	}
	wg.Wait()

	values := make(map[string]string, len(results))
	var errs []ResolutionError
	failedFast := false

	for _, r := range results {
		tk := seen[r.key]
		if r.err != nil {
			errs = append(errs, ResolutionError{Alias: tk.name, Err: r.err})
			if fallback, ok := opts.ErrorPolicy.Fallbacks[tk.name]; ok {
				values[r.key] = fallback
			} else if opts.ErrorPolicy.FailFast {
				failedFast = true
			} else if !opts.ErrorPolicy.Skip {
				values[r.key] = fmt.Sprintf("[unresolved: @%s]", tk.name)
			}
			if opts.ErrorPolicy.OnError != nil {
				opts.ErrorPolicy.OnError(tk.name, r.err)
			}
			continue
		}
		values[r.key] = r.text
	}

	resolvedText := substitute(text, tokens, seen, values)

	namedValues := make(map[string]string, len(values))
	for key, v := range values {
		namedValues[seen[key].name] = v
	}

	return Result{
		ResolvedText: resolvedText,
		ContextBlock: buildContextBlock(uniqueOrder, seen, values, opts.ResourceBudgetRatio),
		Values:       namedValues,
		Errors:       errs,
		FailedFast:   failedFast,
	}
}

func resolveOne(ctx context.Context, reg Registry, tk token, opts Options) (string, error) {
	def, ok := reg.Get(tk.name)
	if !ok {
		return "", fmt.Errorf("resolver: unknown alias %q", tk.name)
	}
	if def.HasArgs && def.ArgPattern != nil && tk.arg != "" && !def.ArgPattern.MatchString(tk.arg) {
		return "", fmt.Errorf("resolver: alias %q argument %q does not match required pattern", tk.name, tk.arg)
	}

	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		text, err := def.Resolve(callCtx, tk.arg)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func substitute(text string, tokens []token, seen map[string]token, values map[string]string) string {
	var b strings.Builder
	rest := text
	for _, tk := range tokens {
		idx := strings.Index(rest, tk.span)
		if idx < 0 {
			continue
		}
		b.WriteString(rest[:idx])
		key := tk.name + "(" + tk.arg + ")"
		if v, ok := values[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(tk.span)
		}
		rest = rest[idx+len(tk.span):]
	}
	b.WriteString(rest)
	return unescape(b.String())
}

func unescape(s string) string {
	return strings.ReplaceAll(s, "@@", "@")
}

// buildContextBlock assembles the resolved values into a deterministic
// "resources" section, ordered by first appearance. It does not trim
// the section (its ratio argument is unused); FitContextBlock trims a
// block to resourceBudgetRatio of a given remaining budget.
func buildContextBlock(order []string, seen map[string]token, values map[string]string, _ float64) string {
	if len(values) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Resolved resources:\n")
	for _, key := range order {
		tk := seen[key]
		v, ok := values[key]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- @%s: %s\n", tk.name, v)
	}
	return b.String()
}

// FitContextBlock trims block to the token budget implied by
// ratio*remainingBudget, dropping whole lines from the end until it
// fits (spec §4.6 step 4's resourceBudgetRatio).
func FitContextBlock(block string, remainingBudget int, ratio float64) string {
	if block == "" {
		return ""
	}
	budget := int(float64(remainingBudget) * ratio)
	if budget <= 0 {
		return ""
	}
	if memory.EstimateTokens(block) <= budget {
		return block
	}
	lines := strings.Split(strings.TrimRight(block, "\n"), "\n")
	for len(lines) > 1 && memory.EstimateTokens(strings.Join(lines, "\n")) > budget {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n") + "\n"
}

// AliasNames returns every unique alias token name referenced in
// text, without resolving, sorted for deterministic inspection.
func AliasNames(text string) []string {
	tokens := lex(text)
	seen := map[string]bool{}
	var out []string
	for _, tk := range tokens {
		if seen[tk.name] {
			continue
		}
		seen[tk.name] = true
		out = append(out, tk.name)
	}
	sort.Strings(out)
	return out
}
