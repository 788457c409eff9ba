package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/signalsfoundry/framebridge/model"
)

// ErrAmbiguousName indicates a flat link name or schema link name that
// cannot be mapped between the schema and instance namespaces.
var ErrAmbiguousName = errors.New("ambiguous name mapping")

// DefaultInstanceSuffixPatterns are applied in order to strip the suffixes
// a simulator appends when the same model is spawned more than once
// ("cart_1") or renamed as a sub-model ("gripper@left").
var DefaultInstanceSuffixPatterns = []string{`_[0-9]*$`, `@[^@]*$`}

// TypeConvention maps an instance name to the model type it was spawned
// from. Implementations must be pure.
type TypeConvention interface {
	ModelType(instance string) string
}

// TypeConventionFunc adapts a plain function to TypeConvention.
type TypeConventionFunc func(instance string) string

// ModelType implements TypeConvention.
func (f TypeConventionFunc) ModelType(instance string) string { return f(instance) }

// SuffixConvention derives model types by deleting regexp matches from the
// instance name, one pattern after another.
type SuffixConvention struct {
	patterns []*regexp.Regexp
}

// NewSuffixConvention compiles the given patterns. With no patterns the
// convention is the identity mapping.
func NewSuffixConvention(patterns ...string) (*SuffixConvention, error) {
	c := &SuffixConvention{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile instance suffix pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

// DefaultSuffixConvention uses DefaultInstanceSuffixPatterns.
func DefaultSuffixConvention() *SuffixConvention {
	c, err := NewSuffixConvention(DefaultInstanceSuffixPatterns...)
	if err != nil {
		panic(err)
	}
	return c
}

// ModelType implements TypeConvention.
func (c *SuffixConvention) ModelType(instance string) string {
	name := instance
	for _, re := range c.patterns {
		name = re.ReplaceAllString(name, "")
	}
	return name
}

// NameResolver maps between flat instance link names and model schema names.
type NameResolver struct {
	convention TypeConvention
}

// NewNameResolver returns a resolver using the given convention, or
// DefaultSuffixConvention when nil.
func NewNameResolver(convention TypeConvention) *NameResolver {
	if convention == nil {
		convention = DefaultSuffixConvention()
	}
	return &NameResolver{convention: convention}
}

// SplitInstance splits a flat link name on its first "::" into the instance
// name and the link name inside the model.
func SplitInstance(flat string) (instance, link string, err error) {
	instance, link, ok := strings.Cut(flat, model.LinkSeparator)
	if !ok || instance == "" || link == "" {
		return "", "", fmt.Errorf("%w: link name %q is not of the form instance::link", ErrAmbiguousName, flat)
	}
	return instance, link, nil
}

// InstanceToModelType returns the model type an instance was spawned from.
func (r *NameResolver) InstanceToModelType(instance string) string {
	return r.convention.ModelType(instance)
}

// ModelLinkToInstance projects a schema link full name ("arm::shoulder")
// into the instance namespace ("arm_2::shoulder"). Only the leading model
// type prefix is replaced.
func ModelLinkToInstance(modelType, instance, schemaFullName string) (string, error) {
	prefix := modelType + model.LinkSeparator
	rest, ok := strings.CutPrefix(schemaFullName, prefix)
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: schema link %q is not inside model %q", ErrAmbiguousName, schemaFullName, modelType)
	}
	return instance + model.LinkSeparator + rest, nil
}

// FrameNamer rewrites flat names into the naming rules of the transform
// consumer.
type FrameNamer func(name string) string

var tfReplacer = strings.NewReplacer(model.LinkSeparator, "__", "@", "AT")

// VerbatimFrameName keeps flat names unchanged.
func VerbatimFrameName(name string) string { return name }

// TFFrameName replaces characters that are not valid in tf frame ids.
func TFFrameName(name string) string { return tfReplacer.Replace(name) }

// FrameNamerByName returns the namer registered under name ("verbatim" or "tf").
func FrameNamerByName(name string) (FrameNamer, error) {
	switch strings.ToLower(name) {
	case "", "verbatim":
		return VerbatimFrameName, nil
	case "tf":
		return TFFrameName, nil
	default:
		return nil, fmt.Errorf("unknown frame naming %q", name)
	}
}
