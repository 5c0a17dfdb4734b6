package authz

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/taskflow/internal/models"
)

// Action is an operation requested on a resource.
type Action string

const (
	ActionRead          Action = "read"
	ActionList          Action = "list"
	ActionCreate        Action = "create"
	ActionUpdate        Action = "update"
	ActionUpdateMembers Action = "update_members"
	ActionDelete        Action = "delete"
	ActionTrack         Action = "track"
)

// IsRead reports whether the action only reads.
func (a Action) IsRead() bool { return a == ActionRead || a == ActionList }

var knownActions = map[Action]bool{
	ActionRead: true, ActionList: true, ActionCreate: true, ActionUpdate: true,
	ActionUpdateMembers: true, ActionDelete: true, ActionTrack: true,
}

// Predicate is a relational test that can grant access.
type Predicate string

const (
	PredicateRole          Predicate = "role"
	PredicateOwner         Predicate = "owner"
	PredicateAssignee      Predicate = "assignee"
	PredicateMember        Predicate = "member"
	PredicateAuthenticated Predicate = "authenticated"
)

var knownPredicates = map[Predicate]bool{
	PredicateRole: true, PredicateOwner: true, PredicateAssignee: true,
	PredicateMember: true, PredicateAuthenticated: true,
}

// scopedRead is the visibility test used for reads of kinds without open_read.
var scopedRead = []Predicate{PredicateRole, PredicateOwner, PredicateAssignee, PredicateMember}

// KindPolicy holds the rules of one resource kind.
type KindPolicy struct {
	OpenRead         bool                   `yaml:"open_read"`
	PrivilegedCreate bool                   `yaml:"privileged_create"`
	Rules            map[Action][]Predicate `yaml:"rules"`
}

// Table is the declarative policy keyed by resource kind.
type Table map[models.ResourceKind]KindPolicy

//go:embed policy.yaml
var defaultPolicy []byte

// DefaultTable returns the embedded policy table.
func DefaultTable() Table {
	t, err := ParseTable(defaultPolicy)
	if err != nil {
		panic(fmt.Sprintf("authz: embedded policy is invalid: %v", err))
	}
	return t
}

// ParseTable decodes and validates a YAML policy table.
func ParseTable(data []byte) (Table, error) {
	var raw map[string]KindPolicy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("policy declares no resource kinds")
	}

	t := make(Table, len(raw))
	for kind, kp := range raw {
		for action, preds := range kp.Rules {
			if !knownActions[action] {
				return nil, fmt.Errorf("kind %q: unknown action %q", kind, action)
			}
			if action == ActionCreate {
				return nil, fmt.Errorf("kind %q: create is governed by privileged_create, not rules", kind)
			}
			if len(preds) == 0 {
				return nil, fmt.Errorf("kind %q action %q: empty predicate list", kind, action)
			}
			for _, p := range preds {
				if !knownPredicates[p] {
					return nil, fmt.Errorf("kind %q action %q: unknown predicate %q", kind, action, p)
				}
			}
		}
		t[models.ResourceKind(kind)] = kp
	}
	return t, nil
}

// LoadTable reads a policy file; an empty path yields the default table.
func LoadTable(path string) (Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParseTable(b)
}
