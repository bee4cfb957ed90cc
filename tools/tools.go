// Package tools defines the declarative tool contract (spec §4.7) and
// the canonical, domain-agnostic tool surface: context_read,
// context_write, context_search, task_execute, state_snapshot,
// agent_delegate, agent_plan, agent_clarify.
package tools

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fenwick-labs/agentengine/errs"
)

// Result is the uniform shape every tool executor returns.
type Result struct {
	Success         bool
	Data            map[string]any
	Error           *errs.EngineError
	ClarificationID string // non-empty marks this result as a clarification interrupt
	Questions       []string
	Options         []string
	Reason          string
	Type            string
}

// IsClarification reports whether this result is a clarification
// interrupt (spec §4.7: identified by presence of clarificationId).
func (r Result) IsClarification() bool { return r.ClarificationID != "" }

// Executor runs a tool given validated input.
type Executor func(ctx context.Context, input map[string]any) (Result, error)

// Definition is a declarative tool: name, description, a JSON Schema
// for its input (used for validation before the executor runs), and
// the executor itself.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Execute     Executor

	// Mutating marks this tool as one whose execution invalidates
	// adapter awareness and bumps its version (spec §3.5's mutation
	// effect rule). Read-only tools leave awareness untouched.
	Mutating bool

	compiled *jsonschema.Schema
}

// Compile compiles d's InputSchema once, caching the result on d for
// reuse by Validate. Returns an error if the schema itself is
// malformed.
func (d *Definition) Compile() error {
	if d.InputSchema == nil {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	const resourceURL = "inline://schema.json"
	raw, err := json.Marshal(d.InputSchema)
	if err != nil {
		return errs.New(errs.CodeToolValidation, "tool input schema is invalid", err)
	}
	if err := compiler.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return errs.New(errs.CodeToolValidation, "tool input schema is invalid", err)
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return errs.New(errs.CodeToolValidation, "tool input schema failed to compile", err)
	}
	d.compiled = schema
	return nil
}

// Validate checks input against d's compiled schema, compiling it
// on first use if Compile was not called explicitly.
func (d *Definition) Validate(input map[string]any) error {
	if d.InputSchema == nil {
		return nil
	}
	if d.compiled == nil {
		if err := d.Compile(); err != nil {
			return err
		}
	}
	if d.compiled == nil {
		return nil
	}
	if err := d.compiled.Validate(input); err != nil {
		return errs.New(errs.CodeToolValidation, "tool input failed schema validation", err)
	}
	return nil
}
