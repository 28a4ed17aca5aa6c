package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/racksync/racksync/pkg/engine"
)

// Gate evaluates write intents against Rego policies before the proxy
// executes them. In advisory mode violations are logged and the write
// proceeds; in enforcing mode a blocking violation denies the write
// before any network access.
type Gate struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	mode     Mode
	store    storage.Store
	loader   *Loader
	logger   zerolog.Logger
	builtin  []Policy
}

var _ engine.PolicyGate = (*Gate)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewGate creates a gate in the given mode with the built-in policies
// loaded.
func NewGate(mode Mode, logger zerolog.Logger) (*Gate, error) {
	if mode == "" {
		mode = ModeAdvisory
	}
	if mode != ModeAdvisory && mode != ModeEnforcing {
		return nil, fmt.Errorf("unknown policy mode: %s", mode)
	}

	g := &Gate{
		policies: make(map[string]*compiledPolicy),
		mode:     mode,
		store:    inmem.New(),
		loader:   NewLoader(logger),
		logger:   logger.With().Str("component", "policy-gate").Logger(),
		builtin:  BuiltinPolicies(),
	}

	if err := g.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return g, nil
}

// Mode returns the gate's enforcement mode.
func (g *Gate) Mode() Mode {
	return g.mode
}

// CheckWrite implements engine.PolicyGate. It returns nil to allow the
// write. In enforcing mode a blocking violation returns a policy-class
// error; in advisory mode violations are logged and nil is returned.
func (g *Gate) CheckWrite(ctx context.Context, intent engine.WriteIntent) error {
	decision, err := g.Evaluate(ctx, intent)
	if err != nil {
		return err
	}

	for i := range decision.Violations {
		v := &decision.Violations[i]
		g.logger.Warn().
			Str("policy", v.Policy).
			Str("severity", string(v.Severity)).
			Str("resource_type", string(intent.Type)).
			Str("operation", string(intent.Kind)).
			Str("mode", string(g.mode)).
			Msg(v.Message)
	}

	if decision.Allowed || g.mode == ModeAdvisory {
		return nil
	}

	messages := make([]string, 0, len(decision.Violations))
	for i := range decision.Violations {
		if decision.Violations[i].Severity.Blocking() {
			messages = append(messages, fmt.Sprintf("%s: %s", decision.Violations[i].Policy, decision.Violations[i].Message))
		}
	}

	return engine.NewPolicyError(
		fmt.Sprintf("policy denied %s of %s: %s", intent.Kind, intent.Type, strings.Join(messages, "; ")),
		nil,
	).WithResourceType(string(intent.Type)).WithOperation(string(intent.Kind))
}

// Evaluate runs every enabled policy against the intent and returns the
// full decision. A policy that fails to evaluate is reported as a warning
// and does not block the write.
func (g *Gate) Evaluate(ctx context.Context, intent engine.WriteIntent) (*Decision, error) {
	start := time.Now()
	g.mu.RLock()
	defer g.mu.RUnlock()

	input := newWriteInput(intent)

	var violations []Violation
	var warnings []string
	evaluated := make([]string, 0, len(g.policies))

	for _, cp := range g.policies {
		if !cp.policy.Enabled {
			continue
		}

		evaluated = append(evaluated, cp.policy.Name)

		found, err := g.evaluatePolicy(ctx, cp, input)
		if err != nil {
			g.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("resource_type", input.ResourceType).
				Msg("Policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}

		violations = append(violations, found...)
	}

	allowed := true
	for i := range violations {
		if violations[i].Severity.Blocking() {
			allowed = false
			break
		}
	}

	duration := time.Since(start)
	g.logger.Debug().
		Str("operation", input.Operation).
		Str("resource_type", input.ResourceType).
		Int("violations", len(violations)).
		Bool("allowed", allowed).
		Dur("duration", duration).
		Msg("Write intent evaluated")

	return &Decision{
		Allowed:           allowed,
		Violations:        violations,
		Warnings:          warnings,
		EvaluatedPolicies: evaluated,
		EvaluatedAt:       time.Now(),
		Duration:          duration,
	}, nil
}

// LoadPolicies loads and compiles policy files from the given paths.
func (g *Gate) LoadPolicies(ctx context.Context, paths []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	policies, err := g.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := g.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			g.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	g.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// Watch reloads policies whenever a file under paths changes. The reload
// replaces all file-loaded policies and keeps the built-ins.
func (g *Gate) Watch(ctx context.Context, paths []string) error {
	return g.loader.Watch(ctx, paths, func(policies []Policy) error {
		return g.replaceLoaded(ctx, policies)
	})
}

// Close stops the policy file watcher.
func (g *Gate) Close() error {
	return g.loader.StopWatching()
}

// replaceLoaded swaps the file-loaded policies for a freshly loaded set.
// The previous set stays in place when any policy fails to compile, so a
// broken edit cannot leave the gate half-loaded.
func (g *Gate) replaceLoaded(ctx context.Context, policies []Policy) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	old := g.policies
	g.policies = make(map[string]*compiledPolicy, len(policies)+len(g.builtin))

	if err := g.loadBuiltinPolicies(ctx); err != nil {
		g.policies = old
		return err
	}

	for i := range policies {
		if err := g.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			g.policies = old
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	return nil
}

// evaluatePolicy evaluates a single compiled policy against the input.
func (g *Gate) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *WriteInput) ([]Violation, error) {
	// Query the deny set of the policy's own package.
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation

	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		if denySet, ok := result.Expressions[0].Value.([]interface{}); ok {
			for _, d := range denySet {
				violations = append(violations, g.createViolation(cp.policy, d, input))
			}
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(rego string) string {
	lines := strings.Split(rego, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "racksync.policies"
}

// createViolation builds a Violation from a single deny result. Results
// may be plain strings or objects with message/severity/resource keys.
func (g *Gate) createViolation(policy *Policy, result interface{}, input *WriteInput) Violation {
	violation := Violation{
		Policy:     policy.Name,
		Resource:   input.ResourceType,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if res, ok := v["resource"].(string); ok {
			violation.Resource = res
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it under its name.
func (g *Gate) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(g.store),
		rego.Query("data"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	g.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	g.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies compiles the built-in policies into the gate.
func (g *Gate) loadBuiltinPolicies(ctx context.Context) error {
	for i := range g.builtin {
		if err := g.compileAndStorePolicy(ctx, &g.builtin[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", g.builtin[i].Name, err)
		}
	}

	g.logger.Info().
		Int("count", len(g.builtin)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (g *Gate) GetPolicy(name string) (*Policy, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cp, exists := g.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (g *Gate) ListPolicies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	policies := make([]Policy, 0, len(g.policies))
	for _, cp := range g.policies {
		policies = append(policies, *cp.policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (g *Gate) EnablePolicy(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp, exists := g.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	g.logger.Info().Str("policy", name).Msg("Policy enabled")

	return nil
}

// DisablePolicy disables a policy by name.
func (g *Gate) DisablePolicy(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp, exists := g.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	g.logger.Info().Str("policy", name).Msg("Policy disabled")

	return nil
}
