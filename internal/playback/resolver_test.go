package playback

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/framecast/pkg/anim"
	"github.com/MrWong99/framecast/pkg/anim/mock"
)

func TestResolverTargets(t *testing.T) {
	t.Parallel()

	world := mock.NewWorld(alice, bob)
	world.Join(carol, "nether")
	dave := anim.Recipient{ID: "dave", Name: "Dave"}
	world.Join(dave, "lobby")
	world.Disconnect(dave.ID)

	res := NewResolver(world, world, NewConditionEvaluator(world, nil))

	tests := []struct {
		name   string
		target anim.Target
		want   []string
	}{
		{name: "single", target: anim.ToRecipient(bob), want: []string{"bob"}},
		{name: "list dedup keeps first seen", target: anim.ToRecipients(carol, alice, carol, bob, alice), want: []string{"carol", "alice", "bob"}},
		{name: "offline dropped", target: anim.ToRecipients(dave, alice), want: []string{"alice"}},
		{name: "world", target: anim.ToWorld("lobby"), want: []string{"alice", "bob"}},
		{name: "other world", target: anim.ToWorld("nether"), want: []string{"carol"}},
		{name: "empty world", target: anim.ToWorld("end"), want: []string{}},
		{name: "server", target: anim.ToServer(), want: []string{"alice", "bob", "carol"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := res.Resolve(tt.target, nil)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if !slices.Equal(ids(got), tt.want) {
				t.Errorf("Resolve = %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestResolverIsASnapshot(t *testing.T) {
	t.Parallel()
	world := mock.NewWorld(alice)
	res := NewResolver(world, nil, NewConditionEvaluator(nil, nil))

	got, _ := res.Resolve(anim.ToServer(), nil)
	world.Join(bob, "lobby")
	if !slices.Equal(ids(got), []string{"alice"}) {
		t.Errorf("snapshot changed after a join: %v", ids(got))
	}
}

func TestResolverNeedsDirectory(t *testing.T) {
	t.Parallel()
	res := NewResolver(nil, nil, NewConditionEvaluator(nil, nil))
	if _, err := res.Resolve(anim.ToServer(), nil); err == nil {
		t.Error("server target without directory: want error")
	}
	if _, err := res.Resolve(anim.ToRecipient(alice), nil); err != nil {
		t.Errorf("recipient target without directory: %v", err)
	}
	if _, err := res.Resolve(anim.Target{Kind: anim.TargetWorld}, nil); err == nil {
		t.Error("world target without a world name: want error")
	}
}

func TestResolverConditions(t *testing.T) {
	t.Parallel()
	world := mock.NewWorld(alice, bob, carol)
	world.Grant(alice.ID, "titles")
	world.Grant(carol.ID, "titles")

	exprs := &mock.Expressions{
		Results: map[string]bool{"vip|bob": true, "everyone": true},
		Errors:  map[string]error{"broken": errors.New("syntax error")},
	}
	res := NewResolver(world, world, NewConditionEvaluator(world, exprs))

	var failures []string
	res.onConditionError = func(_ *anim.Condition, r anim.Recipient, _ error) {
		failures = append(failures, r.ID)
	}

	tests := []struct {
		name string
		cond *anim.Condition
		want []string
	}{
		{name: "nil passes everyone", cond: nil, want: []string{"alice", "bob", "carol"}},
		{name: "has", cond: &anim.Condition{Kind: anim.ConditionHasCapability, Value: "titles"}, want: []string{"alice", "carol"}},
		{name: "lacks", cond: &anim.Condition{Kind: anim.ConditionLacksCapability, Value: "titles"}, want: []string{"bob"}},
		{name: "expression per recipient", cond: &anim.Condition{Kind: anim.ConditionExpression, Value: "vip"}, want: []string{"bob"}},
		{name: "expression for all", cond: &anim.Condition{Kind: anim.ConditionExpression, Value: "everyone"}, want: []string{"alice", "bob", "carol"}},
		{name: "expression error excludes", cond: &anim.Condition{Kind: anim.ConditionExpression, Value: "broken"}, want: []string{}},
	}
	for _, tt := range tests {
		failures = nil
		got, err := res.Resolve(anim.ToServer(), tt.cond)
		if err != nil {
			t.Fatalf("%s: Resolve: %v", tt.name, err)
		}
		if !slices.Equal(ids(got), tt.want) {
			t.Errorf("%s: Resolve = %v, want %v", tt.name, ids(got), tt.want)
		}
		if tt.name == "expression error excludes" && len(failures) != 3 {
			t.Errorf("%s: reported %d failures, want 3", tt.name, len(failures))
		}
	}
}

func TestConditionEvaluatorMissingProviders(t *testing.T) {
	t.Parallel()
	e := NewConditionEvaluator(nil, nil)
	for _, c := range []*anim.Condition{
		{Kind: anim.ConditionHasCapability, Value: "x"},
		{Kind: anim.ConditionExpression, Value: "true"},
		{Kind: "bogus"},
	} {
		ok, err := e.Evaluate(c, alice)
		if ok || err == nil {
			t.Errorf("Evaluate(%s) = %v, %v; want false with error", c.Kind, ok, err)
		}
	}
}

func TestConditionEvaluatorSeesCapabilityChanges(t *testing.T) {
	t.Parallel()
	world := mock.NewWorld(alice)
	e := NewConditionEvaluator(world, nil)
	c := &anim.Condition{Kind: anim.ConditionHasCapability, Value: "sound"}

	if ok, _ := e.Evaluate(c, alice); ok {
		t.Fatal("capability reported before grant")
	}
	world.Grant(alice.ID, "sound")
	if ok, _ := e.Evaluate(c, alice); !ok {
		t.Error("grant not observed; evaluator must not cache")
	}
}
