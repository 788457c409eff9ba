package core

import (
	"context"
	"errors"
	"testing"

	"github.com/signalsfoundry/framebridge/model"
)

type schemaMap map[string]*model.ModelSchema

func (m schemaMap) Get(_ context.Context, modelType string) (*model.ModelSchema, bool) {
	s, ok := m[modelType]
	return s, ok
}

// chainSchema builds a serial chain: links[0] is the root, each later link
// hangs off the one before it.
func chainSchema(name string, links ...string) *model.ModelSchema {
	s := model.NewModelSchema(name)
	var prev *model.Link
	for _, l := range links {
		link := &model.Link{Name: l, FullName: name + model.LinkSeparator + l}
		s.Links[l] = link
		if prev != nil {
			j := &model.Joint{Name: prev.Name + "_to_" + l, Type: "revolute", Parent: prev, Child: link}
			link.ParentJoint = j
			s.Joints = append(s.Joints, j)
		}
		prev = link
	}
	return s
}

func TestResolveParent(t *testing.T) {
	schemas := schemaMap{
		"arm":      chainSchema("arm", "base", "shoulder", "elbow"),
		"forklift": chainSchema("forklift", "body", "mast"),
	}
	r := NewTreeResolver(schemas)

	tests := []struct {
		flat string
		want Resolution
	}{
		{"arm_2::elbow", Resolution{Kind: ParentInstanceLink, Parent: "arm_2::shoulder"}},
		{"arm::shoulder", Resolution{Kind: ParentInstanceLink, Parent: "arm::base"}},
		{"arm_2::base", Resolution{Kind: ParentWorldRoot, Parent: DefaultWorldFrame}},
		{"arm_2::missing", Resolution{Kind: ParentWorldRoot, Parent: DefaultWorldFrame}},
		{"ground_plane::link", Resolution{Kind: ParentWorldRoot, Parent: DefaultWorldFrame}},
		{"forklift_1::mast", Resolution{Kind: ParentInstanceLink, Parent: "forklift_1::body"}},
	}
	for _, tt := range tests {
		t.Run(tt.flat, func(t *testing.T) {
			got, err := r.ResolveParent(context.Background(), tt.flat)
			if err != nil {
				t.Fatalf("ResolveParent error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ResolveParent = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveParentIsDeterministic(t *testing.T) {
	r := NewTreeResolver(schemaMap{"arm": chainSchema("arm", "base", "shoulder")})
	first, err := r.ResolveParent(context.Background(), "arm_7::shoulder")
	if err != nil {
		t.Fatalf("ResolveParent error: %v", err)
	}
	for i := 0; i < 5; i++ {
		got, _ := r.ResolveParent(context.Background(), "arm_7::shoulder")
		if got != first {
			t.Fatalf("call %d = %+v, want %+v", i, got, first)
		}
	}
}

func TestResolveParentIgnoreListMatchesParentPrefixOnly(t *testing.T) {
	schemas := schemaMap{
		"forklift":     chainSchema("forklift", "body", "mast"),
		"forklift_arm": chainSchema("forklift_arm", "base", "hook"),
	}
	r := NewTreeResolver(schemas,
		WithIgnoreList(ParseIgnoreList("forklift;", ";")),
		WithNameResolver(NewNameResolver(TypeConventionFunc(func(s string) string { return s }))),
	)

	got, err := r.ResolveParent(context.Background(), "forklift::mast")
	if err != nil {
		t.Fatalf("ResolveParent error: %v", err)
	}
	if got.Kind != ParentIgnored || got.Parent != "forklift::body" {
		t.Fatalf("forklift::mast = %+v, want ignored with parent forklift::body", got)
	}

	got, err = r.ResolveParent(context.Background(), "forklift_arm::hook")
	if err != nil {
		t.Fatalf("ResolveParent error: %v", err)
	}
	if got.Kind != ParentInstanceLink || got.Parent != "forklift_arm::base" {
		t.Fatalf("forklift_arm::hook = %+v, want instance link forklift_arm::base", got)
	}

	// the root of an ignored sub-model still attaches to the world
	got, _ = r.ResolveParent(context.Background(), "forklift::body")
	if got.Kind != ParentWorldRoot {
		t.Fatalf("forklift::body kind = %v, want %v", got.Kind, ParentWorldRoot)
	}
}

func TestResolveParentIgnoresNestedSubModel(t *testing.T) {
	schemas := schemaMap{
		"robot": chainSchema("robot", "base", "gripper::palm", "gripper::finger", "gripper::tip"),
	}
	r := NewTreeResolver(schemas, WithIgnoreList(IgnoreList{"robot_1::gripper"}))

	tests := []struct {
		flat string
		want Resolution
	}{
		{"robot_1::base", Resolution{Kind: ParentWorldRoot, Parent: DefaultWorldFrame}},
		// the gripper mount hangs off a link outside the ignored sub-model
		{"robot_1::gripper::palm", Resolution{Kind: ParentInstanceLink, Parent: "robot_1::base"}},
		{"robot_1::gripper::finger", Resolution{Kind: ParentIgnored, Parent: "robot_1::gripper::palm"}},
		{"robot_1::gripper::tip", Resolution{Kind: ParentIgnored, Parent: "robot_1::gripper::finger"}},
		{"robot_2::gripper::finger", Resolution{Kind: ParentInstanceLink, Parent: "robot_2::gripper::palm"}},
	}
	for _, tt := range tests {
		t.Run(tt.flat, func(t *testing.T) {
			got, err := r.ResolveParent(context.Background(), tt.flat)
			if err != nil {
				t.Fatalf("ResolveParent error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ResolveParent = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveParentIgnoresWorldParentWhenListed(t *testing.T) {
	r := NewTreeResolver(nil, WithWorldFrame("map::origin"), WithIgnoreList(IgnoreList{"map"}))
	got, err := r.ResolveParent(context.Background(), "cart::chassis")
	if err != nil {
		t.Fatalf("ResolveParent error: %v", err)
	}
	if got.Kind != ParentIgnored || got.Parent != "map::origin" {
		t.Fatalf("ResolveParent = %+v, want world root ignored", got)
	}
}

func TestResolveParentAmbiguous(t *testing.T) {
	// joint parent from a different model cannot be projected
	s := chainSchema("arm", "base", "shoulder")
	s.Links["shoulder"].ParentJoint.Parent = &model.Link{Name: "base", FullName: "other::base"}
	r := NewTreeResolver(schemaMap{"arm": s})

	if _, err := r.ResolveParent(context.Background(), "arm_1::shoulder"); !errors.Is(err, ErrAmbiguousName) {
		t.Fatalf("error = %v, want ErrAmbiguousName", err)
	}
	if _, err := r.ResolveParent(context.Background(), "no_separator"); !errors.Is(err, ErrAmbiguousName) {
		t.Fatalf("error = %v, want ErrAmbiguousName", err)
	}
}

func TestParseIgnoreList(t *testing.T) {
	got := ParseIgnoreList(" a ;; b;", "")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("ParseIgnoreList = %q, want [a b]", got)
	}
	if entry, ok := got.Match("b::x"); !ok || entry != "b" {
		t.Fatalf("Match(b::x) = %q, %v", entry, ok)
	}
	if _, ok := got.Match("bb::x"); ok {
		t.Fatalf("Match(bb::x) matched")
	}
}
