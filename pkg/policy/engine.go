package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// Engine evaluates Rego deletion policies. It implements engine.DeletionPolicy.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	config   engine.ConfigLookup
	logger   zerolog.Logger
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	pkg      string
	allow    rego.PreparedEvalQuery
	deny     rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in policies loaded. The
// config lookup supplies the deletion flag and the exception list.
func NewEngine(logger zerolog.Logger, config engine.ConfigLookup) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		config:   config,
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(context.Background(), &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return e, nil
}

// AllowDelete implements engine.DeletionPolicy.
func (e *Engine) AllowDelete(ctx context.Context, resourceType string) (bool, error) {
	decision, err := e.Evaluate(ctx, e.input(resourceType))
	if err != nil {
		return false, err
	}

	for _, d := range decision.Denials {
		e.logger.Warn().
			Str("policy", d.Policy).
			Str("type", resourceType).
			Msg(d.Message)
	}

	return decision.Allowed, nil
}

// input builds the policy input for a resource type from configuration.
func (e *Engine) input(resourceType string) Input {
	in := Input{
		ResourceType: resourceType,
		AllowDelete:  e.config.Bool(engine.ConfigAllowDelete),
		Exceptions:   []string{},
	}

	if e.config != nil {
		switch v := e.config(engine.ConfigDeleteExceptions).(type) {
		case []string:
			in.Exceptions = append(in.Exceptions, v...)
		case []interface{}:
			for _, s := range v {
				if str, ok := s.(string); ok {
					in.Exceptions = append(in.Exceptions, str)
				}
			}
		case string:
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					in.Exceptions = append(in.Exceptions, s)
				}
			}
		}
		in.Config = map[string]interface{}{
			"client_id": e.config.String(engine.ConfigClientID),
		}
	}

	return in
}

// Evaluate evaluates every enabled policy against the input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Decision, error) {
	startTime := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	decision := &Decision{EvaluatedPolicies: make([]string, 0, len(e.policies))}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		decision.EvaluatedPolicies = append(decision.EvaluatedPolicies, name)

		allowed, err := evalAllow(ctx, cp.allow, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		if allowed {
			decision.AllowedBy = append(decision.AllowedBy, name)
		}

		denials, err := evalDeny(ctx, cp.deny, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		for _, msg := range denials {
			decision.Denials = append(decision.Denials, Denial{Policy: name, Message: msg})
		}
	}

	decision.Allowed = len(decision.AllowedBy) > 0 && len(decision.Denials) == 0
	decision.Duration = time.Since(startTime)

	e.logger.Debug().
		Str("type", input.ResourceType).
		Bool("allowed", decision.Allowed).
		Int("denials", len(decision.Denials)).
		Dur("duration", decision.Duration).
		Msg("Deletion policy evaluated")

	return decision, nil
}

// evalAllow reports whether the allow rule is true. An undefined rule is false.
func evalAllow(ctx context.Context, query rego.PreparedEvalQuery, input Input) (bool, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("policy evaluation error: %w", err)
	}
	return results.Allowed(), nil
}

// evalDeny returns the messages produced by the deny rule.
func evalDeny(ctx context.Context, query rego.PreparedEvalQuery, input Input) ([]string, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var messages []string
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		set, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range set {
			switch v := d.(type) {
			case string:
				messages = append(messages, v)
			case map[string]interface{}:
				if msg, ok := v["message"].(string); ok {
					messages = append(messages, msg)
					continue
				}
				messages = append(messages, fmt.Sprintf("%v", v))
			default:
				messages = append(messages, fmt.Sprintf("%v", v))
			}
		}
	}
	sort.Strings(messages)
	return messages, nil
}

// LoadPolicies loads policy files and directories. Policies with an existing
// name replace the loaded one.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	return e.Replace(ctx, policies)
}

// Replace compiles and installs the given policies. Either all of them are
// installed or none is.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled := make([]*compiledPolicy, 0, len(policies))
	for i := range policies {
		cp, err := compilePolicy(ctx, &policies[i])
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		compiled = append(compiled, cp)
	}

	for _, cp := range compiled {
		e.policies[cp.policy.Name] = cp
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// compileAndStorePolicy compiles a policy and stores it.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	cp, err := compilePolicy(ctx, policy)
	if err != nil {
		return err
	}
	e.policies[policy.Name] = cp
	return nil
}

// compilePolicy parses a module and prepares its allow and deny queries.
func compilePolicy(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	pkg := module.Package.Path.String()

	prepare := func(rule string) (rego.PreparedEvalQuery, error) {
		return rego.New(
			rego.Module(policy.Name, policy.Rego),
			rego.Query(pkg+"."+rule),
		).PrepareForEval(ctx)
	}

	allow, err := prepare("allow")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare allow query: %w", err)
	}
	deny, err := prepare("deny")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare deny query: %w", err)
	}

	return &compiledPolicy{
		policy:   policy,
		pkg:      pkg,
		allow:    allow,
		deny:     deny,
		compiled: time.Now(),
	}, nil
}

// sortedNames returns policy names in a stable order.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// DisablePolicy disables a policy by name until it is replaced.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("Policy disabled")

	return nil
}
