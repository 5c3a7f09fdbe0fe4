package persist_test

import (
	"fmt"
	"testing"

	"github.com/maxBogovick/relmem/pkg/exec"
	"github.com/maxBogovick/relmem/pkg/persist"
)

type userState struct {
	Name   string
	Active bool
}

type userDraft struct {
	Name string
}

type userPatch struct {
	Active *bool
}

type userCommand int

const (
	cmdActivate userCommand = iota
	cmdDeactivate
)

func userReducers() persist.Reducers[userState, userDraft, userPatch, userCommand] {
	return persist.Reducers[userState, userDraft, userPatch, userCommand]{
		FromDraft: func(d userDraft) (userState, error) {
			return userState{Name: d.Name, Active: true}, nil
		},
		Patch: func(s userState, p userPatch) (userState, error) {
			if p.Active != nil {
				s.Active = *p.Active
			}
			return s, nil
		},
		Apply: func(s userState, c userCommand) (userState, error) {
			switch c {
			case cmdActivate:
				s.Active = true
			case cmdDeactivate:
				s.Active = false
			}
			return s, nil
		},
	}
}

func userIntents(intent string) (userCommand, error) {
	switch intent {
	case "activate":
		return cmdActivate, nil
	case "deactivate":
		return cmdDeactivate, nil
	default:
		return 0, fmt.Errorf("unknown intent %q", intent)
	}
}

func newAggregate(t *testing.T) (*exec.Session, *persist.AutonomousAggregate[userState, userDraft, userPatch, userCommand]) {
	t.Helper()
	session, err := exec.NewSession(t.TempDir())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	agg, err := persist.OpenAggregate(session, "users", userReducers(), userIntents, persist.DefaultRetryPolicy)
	if err != nil {
		t.Fatalf("OpenAggregate: %v", err)
	}
	return session, agg
}

func TestCreateGetListRemove(t *testing.T) {
	_, agg := newAggregate(t)

	id, state, err := agg.CreateOne(userDraft{Name: "ana"})
	if err != nil {
		t.Fatalf("CreateOne: %v", err)
	}
	if !state.Active || state.Name != "ana" {
		t.Fatalf("unexpected initial state: %+v", state)
	}

	got, version, err := agg.GetOne(id)
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if version != 1 || got.Name != "ana" {
		t.Fatalf("unexpected GetOne result: %+v version=%d", got, version)
	}

	all, err := agg.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 live aggregate, got %d", len(all))
	}

	if err := agg.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, _, err := agg.GetOne(id); err == nil {
		t.Fatal("expected GetOne to fail on a tombstoned aggregate")
	}
	all, err = agg.List()
	if err != nil {
		t.Fatalf("List after remove: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected 0 live aggregates after remove, got %d", len(all))
	}
}

func TestIntentAndPatch(t *testing.T) {
	_, agg := newAggregate(t)
	id, _, err := agg.CreateOne(userDraft{Name: "bob"})
	if err != nil {
		t.Fatalf("CreateOne: %v", err)
	}

	version, state, err := agg.Intent(id, "deactivate", nil)
	if err != nil {
		t.Fatalf("Intent: %v", err)
	}
	if version != 2 || state.Active {
		t.Fatalf("expected deactivated at version 2, got %+v version=%d", state, version)
	}

	active := true
	version, state, err = agg.Patch(id, userPatch{Active: &active}, nil)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if version != 3 || !state.Active {
		t.Fatalf("expected reactivated at version 3, got %+v version=%d", state, version)
	}
}

func TestOptimisticLockRejectsStaleExpectedVersion(t *testing.T) {
	_, agg := newAggregate(t)
	id, _, err := agg.CreateOne(userDraft{Name: "cora"})
	if err != nil {
		t.Fatalf("CreateOne: %v", err)
	}

	v1 := uint64(1)
	if _, _, err := agg.Intent(id, "deactivate", &v1); err != nil {
		t.Fatalf("first Intent with expectedVersion=1: %v", err)
	}

	// The aggregate is now at version 2; a second caller still
	// expecting version 1 must be rejected without mutating state.
	if _, _, err := agg.Intent(id, "activate", &v1); err == nil {
		t.Fatal("expected stale expected_version to be rejected")
	} else {
		var domainErr *persist.PersistDomainError
		if !asDomainError(err, &domainErr) {
			t.Fatalf("expected a PersistDomainError, got %T: %v", err, err)
		}
		if domainErr.Kind != persist.DomainConflictConcurrent {
			t.Fatalf("expected DomainConflictConcurrent, got %v", domainErr.Kind)
		}
	}

	state, version, err := agg.GetOne(id)
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if version != 2 || state.Active {
		t.Fatalf("rejected intent must not have mutated state, got %+v version=%d", state, version)
	}
}

func asDomainError(err error, target **persist.PersistDomainError) bool {
	de, ok := err.(*persist.PersistDomainError)
	if !ok {
		return false
	}
	*target = de
	return true
}

func TestIdempotentReplay(t *testing.T) {
	_, agg := newAggregate(t)
	id, _, err := agg.CreateOne(userDraft{Name: "dee"})
	if err != nil {
		t.Fatalf("CreateOne: %v", err)
	}

	calls := 0
	run := func() (string, error) {
		calls++
		if _, _, err := agg.Intent(id, "deactivate", nil); err != nil {
			return "", err
		}
		return "ok", nil
	}

	first, err := agg.WithIdempotencyKey(id, "deactivate", "req-1", run)
	if err != nil {
		t.Fatalf("first WithIdempotencyKey: %v", err)
	}
	if first.Replayed {
		t.Fatal("first call should not be a replay")
	}

	second, err := agg.WithIdempotencyKey(id, "deactivate", "req-1", run)
	if err != nil {
		t.Fatalf("second WithIdempotencyKey: %v", err)
	}
	if !second.Replayed {
		t.Fatal("duplicate idempotency key should replay the stored response")
	}
	if calls != 1 {
		t.Fatalf("expected the reducer to run exactly once, ran %d times", calls)
	}
}

func TestOutboxEnqueueAndDispatch(t *testing.T) {
	_, agg := newAggregate(t)
	id, _, err := agg.CreateOne(userDraft{Name: "eve"})
	if err != nil {
		t.Fatalf("CreateOne: %v", err)
	}
	if err := agg.EnqueueOutbox(id, "welcome_email", `{"to":"eve"}`); err != nil {
		t.Fatalf("EnqueueOutbox: %v", err)
	}

	pending, err := agg.PendingOutbox()
	if err != nil {
		t.Fatalf("PendingOutbox: %v", err)
	}
	if len(pending) != 1 || pending[0].Kind != "welcome_email" {
		t.Fatalf("unexpected pending outbox: %+v", pending)
	}
}

func TestAuditTrailRecordsOperations(t *testing.T) {
	_, agg := newAggregate(t)
	id, _, err := agg.CreateOne(userDraft{Name: "finn"})
	if err != nil {
		t.Fatalf("CreateOne: %v", err)
	}
	if _, _, err := agg.Intent(id, "deactivate", nil); err != nil {
		t.Fatalf("Intent: %v", err)
	}

	trail, err := agg.AuditTrail(id)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("expected 2 audit rows (create + intent), got %d", len(trail))
	}
	if trail[0].Operation != "create" {
		t.Fatalf("expected first audit row to be create, got %q", trail[0].Operation)
	}
}

func TestMigrationPlanAppliesOrderedSteps(t *testing.T) {
	session, agg := newAggregate(t)
	if _, _, err := agg.CreateOne(userDraft{Name: "gus"}); err != nil {
		t.Fatalf("CreateOne: %v", err)
	}

	applied := 0
	plan := &persist.PersistMigrationPlan{
		Table: "users",
		Steps: []persist.PersistMigrationStep{
			{From: 0, To: 1, StateFn: func(m map[string]any) (map[string]any, error) {
				applied++
				m["migrated"] = true
				return m, nil
			}},
		},
	}
	if err := plan.Run(session); err != nil {
		t.Fatalf("migration Run: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected migration state_fn to run once, ran %d times", applied)
	}

	// Running the plan again fails fast: schema_version is already at 1
	// and no step has From=1.
	if err := plan.Run(session); err == nil {
		t.Fatal("expected re-running an exhausted plan with no matching step to fail fast")
	}
}
