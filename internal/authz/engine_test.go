package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/taskflow/internal/errors"
	"github.com/p-blackswan/taskflow/internal/models"
)

var (
	scrumMaster = models.Actor{ID: "sm", Role: models.RoleScrumMaster}
	employee    = models.Actor{ID: "emp", Role: models.RoleEmployee}
	outsider    = models.Actor{ID: "emp2", Role: models.RoleEmployee}
)

// projectFacts: created by the scrum master, employee on the team.
var projectFacts = models.Facts{OwnerID: "sm", MemberIDs: []string{"emp"}}

// taskFacts: created by the scrum master, assigned to the employee.
var taskFacts = models.Facts{OwnerID: "sm", AssigneeID: "emp", MemberIDs: []string{"emp"}}

func TestDecide_CreateProject(t *testing.T) {
	e := NewEngine(nil)

	d := e.Decide(employee, ActionCreate, models.KindProject, models.Facts{})
	assert.False(t, d.Allowed())
	assert.Equal(t, RulePrivilegedCreate, d.Rule)

	d = e.Decide(scrumMaster, ActionCreate, models.KindProject, models.Facts{})
	assert.True(t, d.Allowed())
	assert.Equal(t, PredicateRole, d.Predicate)
}

func TestDecide_CreateUnprivilegedKinds(t *testing.T) {
	e := NewEngine(nil)
	for _, kind := range []models.ResourceKind{models.KindTask, models.KindComment, models.KindTimeRecord} {
		d := e.Decide(employee, ActionCreate, kind, models.Facts{})
		assert.True(t, d.Allowed(), "kind %s", kind)
		assert.Equal(t, RuleCreate, d.Rule)
	}
}

func TestDecide_AssigneeUpdatesTask(t *testing.T) {
	e := NewEngine(nil)

	d := e.Decide(employee, ActionUpdate, models.KindTask, taskFacts)
	assert.True(t, d.Allowed())
	assert.Equal(t, PredicateAssignee, d.Predicate)
	assert.Equal(t, "task.update", d.Rule)
}

func TestDecide_PredicateOrder(t *testing.T) {
	e := NewEngine(nil)

	// Owner and assignee both hold; owner is evaluated first.
	facts := models.Facts{OwnerID: "emp", AssigneeID: "emp"}
	d := e.Decide(employee, ActionUpdate, models.KindTask, facts)
	assert.Equal(t, PredicateOwner, d.Predicate)

	// Role wins before any relation.
	d = e.Decide(scrumMaster, ActionUpdate, models.KindTask, models.Facts{OwnerID: "sm"})
	assert.Equal(t, PredicateRole, d.Predicate)
}

func TestDecide_MemberCannotChangeProjectMembership(t *testing.T) {
	e := NewEngine(nil)

	assert.False(t, e.Decide(employee, ActionUpdateMembers, models.KindProject, projectFacts).Allowed())
	assert.True(t, e.Decide(scrumMaster, ActionUpdateMembers, models.KindProject, projectFacts).Allowed())
}

func TestDecide_ScopedRead(t *testing.T) {
	e := NewEngine(nil)

	assert.True(t, e.Decide(employee, ActionRead, models.KindProject, projectFacts).Allowed())
	assert.False(t, e.Decide(outsider, ActionRead, models.KindProject, projectFacts).Allowed())
	assert.True(t, e.Decide(scrumMaster, ActionRead, models.KindProject, models.Facts{}).Allowed())
}

func TestDecide_OpenRead(t *testing.T) {
	e := NewEngine(nil)
	d := e.Decide(outsider, ActionRead, models.KindComment, models.Facts{OwnerID: "someone"})
	assert.True(t, d.Allowed())
	assert.Equal(t, RuleOpenRead, d.Rule)
}

func TestDecide_UnknownKindAndAction(t *testing.T) {
	e := NewEngine(nil)

	d := e.Decide(scrumMaster, ActionUpdate, models.ResourceKind("invoice"), models.Facts{})
	assert.False(t, d.Allowed())
	assert.Equal(t, RuleUnknownKind, d.Rule)

	d = e.Decide(scrumMaster, Action("archive"), models.KindTask, models.Facts{})
	assert.False(t, d.Allowed())
	assert.Equal(t, RuleNoRule, d.Rule)
}

func TestDecide_Unauthenticated(t *testing.T) {
	e := NewEngine(nil)
	d := e.Decide(models.Actor{}, ActionRead, models.KindComment, models.Facts{})
	assert.False(t, d.Allowed())
	assert.Equal(t, RuleUnauthenticated, d.Rule)
}

func TestDecide_TrackTask(t *testing.T) {
	e := NewEngine(nil)

	assert.True(t, e.Decide(employee, ActionTrack, models.KindTask, taskFacts).Allowed())
	assert.False(t, e.Decide(outsider, ActionTrack, models.KindTask, taskFacts).Allowed())
}

func TestAuthorize_VisibilityPolicy(t *testing.T) {
	e := NewEngine(nil)

	// Non-member reading a project: not found.
	err := e.Authorize(outsider, ActionRead, models.KindProject, projectFacts)
	assert.Equal(t, perrors.KindNotFound, perrors.KindOf(err))

	// Non-member mutating a project: still not found (cannot see it).
	err = e.Authorize(outsider, ActionUpdate, models.KindProject, projectFacts)
	assert.Equal(t, perrors.KindNotFound, perrors.KindOf(err))

	// Member mutating membership: visible but forbidden.
	err = e.Authorize(employee, ActionUpdateMembers, models.KindProject, projectFacts)
	assert.Equal(t, perrors.KindForbidden, perrors.KindOf(err))

	// Employee creating a project: forbidden.
	err = e.Authorize(employee, ActionCreate, models.KindProject, models.Facts{})
	assert.Equal(t, perrors.KindForbidden, perrors.KindOf(err))

	err = e.Authorize(models.Actor{}, ActionRead, models.KindTask, taskFacts)
	assert.Equal(t, perrors.KindUnauthorized, perrors.KindOf(err))

	assert.NoError(t, e.Authorize(employee, ActionUpdate, models.KindTask, taskFacts))
}

func TestFilter(t *testing.T) {
	e := NewEngine(nil)
	type proj struct {
		id    string
		facts models.Facts
	}
	items := []proj{
		{"p1", models.Facts{OwnerID: "sm", MemberIDs: []string{"emp"}}},
		{"p2", models.Facts{OwnerID: "sm", MemberIDs: []string{"emp2"}}},
		{"p3", models.Facts{OwnerID: "emp"}},
	}
	factsOf := func(p proj) models.Facts { return p.facts }

	visible := Filter(e, employee, models.KindProject, items, factsOf)
	require.Len(t, visible, 2)
	assert.Equal(t, "p1", visible[0].id)
	assert.Equal(t, "p3", visible[1].id)

	assert.Len(t, Filter(e, scrumMaster, models.KindProject, items, factsOf), 3)
}

func TestOnDecision(t *testing.T) {
	e := NewEngine(nil)
	var seen []Effect
	e.OnDecision(func(_ models.ResourceKind, _ Action, d Decision) {
		seen = append(seen, d.Effect)
	})

	e.Decide(employee, ActionCreate, models.KindProject, models.Facts{})
	e.Decide(scrumMaster, ActionCreate, models.KindProject, models.Facts{})
	assert.Equal(t, []Effect{EffectDeny, EffectAllow}, seen)
}
