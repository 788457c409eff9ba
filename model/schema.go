package model

import "sort"

// LinkSeparator joins scope names in fully-qualified link and frame names.
const LinkSeparator = "::"

// ModelSchema is the declared kinematic structure of one model type,
// independent of how many instances of it exist in a scene.
// It is immutable once returned by a schema provider.
type ModelSchema struct {
	// Name is the model type name the schema was authored under.
	Name string

	// Links are keyed by their schema-relative name, e.g. "base" or
	// "gripper::finger" for links of nested models.
	Links map[string]*Link

	Joints []*Joint
}

// Link is a rigid body declared by a model schema.
type Link struct {
	// Name is relative to the root model, nested scopes joined by "::".
	Name string
	// FullName is prefixed by the model type name: "<model>::<Name>".
	FullName string
	// ParentJoint is the joint whose child is this link, nil for the
	// root of a model subtree.
	ParentJoint *Joint
}

// Joint attaches a child link to a parent link.
type Joint struct {
	Name   string
	Type   string // revolute, prismatic, fixed, ...
	Parent *Link
	Child  *Link
}

// NewModelSchema returns an empty schema for the given model type.
func NewModelSchema(name string) *ModelSchema {
	return &ModelSchema{
		Name:  name,
		Links: make(map[string]*Link),
	}
}

// Link returns the link with the given schema-relative name, or nil.
func (m *ModelSchema) Link(name string) *Link {
	if m == nil {
		return nil
	}
	return m.Links[name]
}

// LinkNames returns the schema-relative link names in sorted order.
func (m *ModelSchema) LinkNames() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.Links))
	for name := range m.Links {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TreeParent returns the parent link of name, or nil if name is unknown
// or is the root of its subtree.
func (m *ModelSchema) TreeParent(name string) *Link {
	link := m.Link(name)
	if link == nil || link.ParentJoint == nil {
		return nil
	}
	return link.ParentJoint.Parent
}
