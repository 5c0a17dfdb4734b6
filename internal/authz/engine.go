// Package authz decides whether an actor may perform an action on a resource.
//
// Decisions come from a declarative table keyed by (resource kind, action).
// Each rule is an ordered predicate list; the first predicate that holds
// allows the request and is reported back for audit. The engine performs no
// I/O: relational facts are supplied by the caller.
package authz

import (
	perrors "github.com/p-blackswan/taskflow/internal/errors"
	"github.com/p-blackswan/taskflow/internal/models"
)

// Effect is the outcome of a decision.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Rule names reported when no predicate was involved.
const (
	RuleUnauthenticated  = "unauthenticated"
	RuleUnknownKind      = "unknown_kind"
	RuleNoRule           = "no_rule"
	RuleOpenRead         = "open_read"
	RuleScopedRead       = "scoped_read"
	RuleCreate           = "create"
	RulePrivilegedCreate = "privileged_create"
)

// Decision is the result of evaluating one request.
type Decision struct {
	Effect Effect
	// Rule identifies the table entry that produced the decision.
	Rule string
	// Predicate is the predicate that matched, empty on deny.
	Predicate Predicate
}

// Allowed reports whether the decision allows the request.
func (d Decision) Allowed() bool { return d.Effect == EffectAllow }

func allow(rule string, p Predicate) Decision {
	return Decision{Effect: EffectAllow, Rule: rule, Predicate: p}
}

func deny(rule string) Decision {
	return Decision{Effect: EffectDeny, Rule: rule}
}

// Engine evaluates requests against a policy table.
type Engine struct {
	table      Table
	onDecision func(models.ResourceKind, Action, Decision)
}

// NewEngine creates an engine over table. A nil table uses DefaultTable.
func NewEngine(table Table) *Engine {
	if table == nil {
		table = DefaultTable()
	}
	return &Engine{table: table}
}

// OnDecision registers an observer called after every decision (metrics).
func (e *Engine) OnDecision(fn func(models.ResourceKind, Action, Decision)) {
	e.onDecision = fn
}

// Decide evaluates (actor, action, kind, facts). It never panics; unknown
// kinds and actions are denied.
func (e *Engine) Decide(actor models.Actor, action Action, kind models.ResourceKind, facts models.Facts) Decision {
	d := e.decide(actor, action, kind, facts)
	if e.onDecision != nil {
		e.onDecision(kind, action, d)
	}
	return d
}

func (e *Engine) decide(actor models.Actor, action Action, kind models.ResourceKind, facts models.Facts) Decision {
	if !actor.Authenticated() {
		return deny(RuleUnauthenticated)
	}
	kp, ok := e.table[kind]
	if !ok {
		return deny(RuleUnknownKind)
	}

	switch {
	case action.IsRead():
		if kp.OpenRead {
			return allow(RuleOpenRead, PredicateAuthenticated)
		}
		preds := scopedRead
		if custom, ok := kp.Rules[action]; ok {
			preds = custom
		}
		return evaluate(RuleScopedRead, preds, actor, facts)

	case action == ActionCreate:
		if !kp.PrivilegedCreate {
			return allow(RuleCreate, PredicateAuthenticated)
		}
		if actor.IsScrumMaster() {
			return allow(RulePrivilegedCreate, PredicateRole)
		}
		return deny(RulePrivilegedCreate)
	}

	preds, ok := kp.Rules[action]
	if !ok {
		return deny(RuleNoRule)
	}
	return evaluate(string(kind)+"."+string(action), preds, actor, facts)
}

// evaluate runs preds in order; the first that holds allows.
func evaluate(rule string, preds []Predicate, actor models.Actor, facts models.Facts) Decision {
	for _, p := range preds {
		if holds(p, actor, facts) {
			return allow(rule, p)
		}
	}
	return deny(rule)
}

func holds(p Predicate, actor models.Actor, facts models.Facts) bool {
	switch p {
	case PredicateRole:
		return actor.IsScrumMaster()
	case PredicateOwner:
		return facts.OwnerID != "" && facts.OwnerID == actor.ID
	case PredicateAssignee:
		return facts.AssigneeID != "" && facts.AssigneeID == actor.ID
	case PredicateMember:
		return facts.HasMember(actor.ID)
	case PredicateAuthenticated:
		return actor.Authenticated()
	default:
		return false
	}
}

// Visible reports whether the actor may see the resource at all.
func (e *Engine) Visible(actor models.Actor, kind models.ResourceKind, facts models.Facts) bool {
	return e.decide(actor, ActionRead, kind, facts).Allowed()
}

// Authorize maps a decision onto the error taxonomy. Resources the actor
// cannot see are reported as not found; visible resources the actor may not
// change are forbidden.
func (e *Engine) Authorize(actor models.Actor, action Action, kind models.ResourceKind, facts models.Facts) error {
	d := e.Decide(actor, action, kind, facts)
	if d.Allowed() {
		return nil
	}
	if !actor.Authenticated() {
		return perrors.Unauthorized("authentication required")
	}
	if action == ActionCreate {
		return perrors.Forbidden("creating a %s requires the scrum master role", kind)
	}
	if action.IsRead() || !e.Visible(actor, kind, facts) {
		return perrors.NotFound("%s not found", kind)
	}
	return perrors.Forbidden("not allowed to %s this %s", action, kind)
}

// Filter keeps the items the actor may see. facts extracts each item's facts.
func Filter[T any](e *Engine, actor models.Actor, kind models.ResourceKind, items []T, facts func(T) models.Facts) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if e.Visible(actor, kind, facts(it)) {
			out = append(out, it)
		}
	}
	return out
}
