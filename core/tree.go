package core

import (
	"context"
	"strings"

	"github.com/signalsfoundry/framebridge/model"
)

// DefaultWorldFrame names the fixed root of the reconstructed tree.
const DefaultWorldFrame = "gazebo_world"

// ParentKind classifies the outcome of parent resolution.
type ParentKind int

const (
	// ParentWorldRoot means the link hangs directly off the world frame.
	ParentWorldRoot ParentKind = iota
	// ParentInstanceLink means the link's parent is another scene link.
	ParentInstanceLink
	// ParentIgnored means the edge is suppressed by the ignore list.
	ParentIgnored
)

func (k ParentKind) String() string {
	switch k {
	case ParentWorldRoot:
		return "world_root"
	case ParentInstanceLink:
		return "instance_link"
	case ParentIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Resolution is the parent frame chosen for one link.
type Resolution struct {
	Kind ParentKind
	// Parent is the resolved parent frame name. For ParentIgnored it holds
	// the candidate that matched the ignore list.
	Parent string
}

// SchemaSource returns the cached schema of a model type, if one exists.
type SchemaSource interface {
	Get(ctx context.Context, modelType string) (*model.ModelSchema, bool)
}

// IgnoreList holds sub-model instance prefixes whose edges are suppressed.
type IgnoreList []string

// ParseIgnoreList splits raw on delim, dropping blank entries.
func ParseIgnoreList(raw, delim string) IgnoreList {
	if delim == "" {
		delim = ";"
	}
	var out IgnoreList
	for _, entry := range strings.Split(raw, delim) {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

// Match returns the first entry whose "entry::" prefix starts frame.
func (l IgnoreList) Match(frame string) (string, bool) {
	for _, entry := range l {
		if strings.HasPrefix(frame, entry+model.LinkSeparator) {
			return entry, true
		}
	}
	return "", false
}

// TreeResolver recovers each link's parent frame from model schemas.
type TreeResolver struct {
	schemas    SchemaSource
	names      *NameResolver
	ignore     IgnoreList
	worldFrame string
}

// TreeResolverOption customises TreeResolver construction.
type TreeResolverOption func(*TreeResolver)

// WithNameResolver sets the resolver used to derive model types.
func WithNameResolver(n *NameResolver) TreeResolverOption {
	return func(r *TreeResolver) {
		if n != nil {
			r.names = n
		}
	}
}

// WithIgnoreList sets the sub-model prefixes to suppress.
func WithIgnoreList(l IgnoreList) TreeResolverOption {
	return func(r *TreeResolver) {
		r.ignore = append(IgnoreList(nil), l...)
	}
}

// WithWorldFrame overrides DefaultWorldFrame.
func WithWorldFrame(name string) TreeResolverOption {
	return func(r *TreeResolver) {
		if name != "" {
			r.worldFrame = name
		}
	}
}

// NewTreeResolver builds a resolver over schemas. A nil source treats every
// link as a direct child of the world frame.
func NewTreeResolver(schemas SchemaSource, opts ...TreeResolverOption) *TreeResolver {
	r := &TreeResolver{
		schemas:    schemas,
		names:      NewNameResolver(nil),
		worldFrame: DefaultWorldFrame,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WorldFrame returns the name of the root frame.
func (r *TreeResolver) WorldFrame() string { return r.worldFrame }

// IgnoreList returns a copy of the configured ignore list.
func (r *TreeResolver) IgnoreList() IgnoreList { return append(IgnoreList(nil), r.ignore...) }

// ResolveParent determines the parent frame of a flat link name. Errors
// wrap ErrAmbiguousName and concern this link only.
//
// The ignore list is tested against the parent frame name, so only the
// immediate edge into an ignored sub-model is suppressed.
func (r *TreeResolver) ResolveParent(ctx context.Context, flatLinkName string) (Resolution, error) {
	parent, err := r.parentFrame(ctx, flatLinkName)
	if err != nil {
		return Resolution{}, err
	}
	if _, ignored := r.ignore.Match(parent); ignored {
		return Resolution{Kind: ParentIgnored, Parent: parent}, nil
	}
	if parent == r.worldFrame {
		return Resolution{Kind: ParentWorldRoot, Parent: parent}, nil
	}
	return Resolution{Kind: ParentInstanceLink, Parent: parent}, nil
}

func (r *TreeResolver) parentFrame(ctx context.Context, flatLinkName string) (string, error) {
	instance, linkInModel, err := SplitInstance(flatLinkName)
	if err != nil {
		return "", err
	}
	if r.schemas == nil {
		return r.worldFrame, nil
	}

	modelType := r.names.InstanceToModelType(instance)
	schema, ok := r.schemas.Get(ctx, modelType)
	if !ok {
		// not a declared model
		return r.worldFrame, nil
	}
	parent := schema.TreeParent(linkInModel)
	if parent == nil {
		return r.worldFrame, nil
	}
	return ModelLinkToInstance(modelType, instance, parent.FullName)
}
