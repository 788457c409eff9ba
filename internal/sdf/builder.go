package sdf

import (
	"errors"
	"fmt"
	"io"

	"github.com/signalsfoundry/framebridge/model"
)

var (
	// ErrModelNotFound indicates no model of the requested type exists.
	ErrModelNotFound = errors.New("model not found")
	// ErrInvalidModel indicates a model description that does not form a
	// kinematic forest.
	ErrInvalidModel = errors.New("invalid model description")
)

// worldLink is the reserved joint parent meaning "attached to the world".
const worldLink = "world"

// maxIncludeDepth bounds nested <include> resolution.
const maxIncludeDepth = 16

// includeResolver returns the model an <include> URI refers to.
type includeResolver func(uri string) (*modelXML, error)

type pendingJoint struct {
	scope string
	joint jointXML
}

type builder struct {
	schema  *model.ModelSchema
	joints  []pendingJoint
	include includeResolver
}

// Parse reads an SDF document and returns the schema of the top-level model
// named modelType. Documents with <include> elements need a Database.
func Parse(r io.Reader, modelType string) (*model.ModelSchema, error) {
	doc, err := decodeSDF(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	m, ok := doc.model(modelType)
	if !ok {
		return nil, fmt.Errorf("%w: no model %q in document", ErrModelNotFound, modelType)
	}
	return buildSchema(modelType, m, nil)
}

func buildSchema(modelType string, root *modelXML, include includeResolver) (*model.ModelSchema, error) {
	b := &builder{
		schema:  model.NewModelSchema(modelType),
		include: include,
	}
	if err := b.addModel(root, "", 0); err != nil {
		return nil, err
	}
	if err := b.linkJoints(); err != nil {
		return nil, err
	}
	if err := checkForest(b.schema); err != nil {
		return nil, err
	}
	return b.schema, nil
}

func (b *builder) addModel(m *modelXML, scope string, depth int) error {
	for _, l := range m.Links {
		if l.Name == "" {
			return fmt.Errorf("%w: unnamed link in scope %q", ErrInvalidModel, scope)
		}
		name := scoped(scope, l.Name)
		if _, dup := b.schema.Links[name]; dup {
			return fmt.Errorf("%w: duplicate link %q", ErrInvalidModel, name)
		}
		b.schema.Links[name] = &model.Link{
			Name:     name,
			FullName: b.schema.Name + model.LinkSeparator + name,
		}
	}
	for _, j := range m.Joints {
		b.joints = append(b.joints, pendingJoint{scope: scope, joint: j})
	}
	for i := range m.Models {
		nested := &m.Models[i]
		if nested.Name == "" {
			return fmt.Errorf("%w: unnamed nested model in scope %q", ErrInvalidModel, scope)
		}
		if err := b.addModel(nested, scoped(scope, nested.Name), depth); err != nil {
			return err
		}
	}
	for _, inc := range m.Includes {
		if b.include == nil {
			return fmt.Errorf("%w: include %q needs a model database", ErrInvalidModel, inc.URI)
		}
		if depth >= maxIncludeDepth {
			return fmt.Errorf("%w: includes nested deeper than %d", ErrInvalidModel, maxIncludeDepth)
		}
		included, err := b.include(inc.URI)
		if err != nil {
			return fmt.Errorf("include %q: %w", inc.URI, err)
		}
		name := inc.Name
		if name == "" {
			name = included.Name
		}
		if err := b.addModel(included, scoped(scope, name), depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) linkJoints() error {
	for _, p := range b.joints {
		child := b.resolve(p.scope, p.joint.Child)
		if child == nil {
			return fmt.Errorf("%w: joint %q has unknown child %q", ErrInvalidModel, p.joint.Name, p.joint.Child)
		}
		var parent *model.Link
		if p.joint.Parent != worldLink {
			if parent = b.resolve(p.scope, p.joint.Parent); parent == nil {
				return fmt.Errorf("%w: joint %q has unknown parent %q", ErrInvalidModel, p.joint.Name, p.joint.Parent)
			}
		}
		if child.ParentJoint != nil {
			return fmt.Errorf("%w: link %q is the child of joints %q and %q",
				ErrInvalidModel, child.Name, child.ParentJoint.Name, p.joint.Name)
		}
		joint := &model.Joint{
			Name:   scoped(p.scope, p.joint.Name),
			Type:   p.joint.Type,
			Parent: parent,
			Child:  child,
		}
		child.ParentJoint = joint
		b.schema.Joints = append(b.schema.Joints, joint)
	}
	return nil
}

// resolve looks a joint reference up in the joint's own scope first and
// then relative to the root model.
func (b *builder) resolve(scope, ref string) *model.Link {
	if ref == "" {
		return nil
	}
	if l, ok := b.schema.Links[scoped(scope, ref)]; ok {
		return l
	}
	return b.schema.Links[ref]
}

func checkForest(schema *model.ModelSchema) error {
	for _, name := range schema.LinkNames() {
		steps := 0
		for l := schema.Links[name]; l != nil && l.ParentJoint != nil; l = l.ParentJoint.Parent {
			if steps++; steps > len(schema.Links) {
				return fmt.Errorf("%w: joints form a cycle through %q", ErrInvalidModel, name)
			}
		}
	}
	return nil
}

func scoped(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + model.LinkSeparator + name
}
