package sdf

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalsfoundry/framebridge/model"
)

// StaticProvider serves schemas registered in memory.
type StaticProvider struct {
	mu      sync.RWMutex
	schemas map[string]*model.ModelSchema
	calls   map[string]int
}

// NewStaticProvider returns a provider serving the given schemas by name.
func NewStaticProvider(schemas ...*model.ModelSchema) *StaticProvider {
	p := &StaticProvider{
		schemas: make(map[string]*model.ModelSchema),
		calls:   make(map[string]int),
	}
	for _, s := range schemas {
		if s != nil {
			p.schemas[s.Name] = s
		}
	}
	return p
}

// LoadModelSchema implements kb.SchemaProvider.
func (p *StaticProvider) LoadModelSchema(ctx context.Context, modelType string) (*model.ModelSchema, error) {
	p.mu.Lock()
	p.calls[modelType]++
	s, ok := p.schemas[modelType]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModelNotFound, modelType)
	}
	return s, nil
}

// Calls reports how many times modelType was requested.
func (p *StaticProvider) Calls(modelType string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls[modelType]
}
