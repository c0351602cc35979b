package workflow

import (
	"sync"

	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow/dsl"
)

// VariablePool holds the input cells and produced outputs of one run.
//
// Input cells are literal values or references to another node's output.
// Outputs are written once per node, before that node signals completion, and
// are treated as immutable afterwards. A child pool (iteration scope) reads
// through to its parent but only ever writes to itself.
type VariablePool struct {
	mu      sync.RWMutex
	inputs  map[string]map[string]dsl.ValueDef
	outputs map[string]map[string]any
	parent  *VariablePool
}

// NewVariablePool creates an empty root pool.
func NewVariablePool() *VariablePool {
	return &VariablePool{
		inputs:  make(map[string]map[string]dsl.ValueDef),
		outputs: make(map[string]map[string]any),
	}
}

// Child creates an isolated scope on top of p.
func (p *VariablePool) Child() *VariablePool {
	c := NewVariablePool()
	c.parent = p
	return c
}

// AddInputs registers the input cells declared by node.
func (p *VariablePool) AddInputs(node *Node) {
	cells := make(map[string]dsl.ValueDef, len(node.Inputs))
	for _, in := range node.Inputs {
		cells[in.Name] = in.Schema.Value
	}
	p.mu.Lock()
	p.inputs[node.ID] = cells
	p.mu.Unlock()
}

func (p *VariablePool) inputCell(nodeID, key string) (dsl.ValueDef, bool) {
	for cur := p; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		cells, ok := cur.inputs[nodeID]
		var cell dsl.ValueDef
		if ok {
			cell, ok = cells[key]
		}
		cur.mu.RUnlock()
		if ok {
			return cell, true
		}
	}
	return dsl.ValueDef{}, false
}

// GetVariable returns the value of input key of nodeID: the literal content,
// or the referenced output resolved through this pool.
func (p *VariablePool) GetVariable(nodeID, key string) (any, error) {
	cell, ok := p.inputCell(nodeID, key)
	if !ok {
		return nil, types.Errorf(types.ErrVariableNotFound, "input %q of node %s is not declared", key, nodeID).WithNode(nodeID)
	}
	switch cell.Type {
	case dsl.ValueTypeLiteral, "":
		return cell.Content, nil
	case dsl.ValueTypeRef:
		ref, ok := cell.Ref()
		if !ok {
			return nil, types.Errorf(types.ErrVariableParse, "input %q of node %s has a malformed reference", key, nodeID).WithNode(nodeID)
		}
		return p.GetOutput(ref.NodeID, ref.Name)
	default:
		return nil, types.Errorf(types.ErrVariableParse, "input %q of node %s has unknown value type %q", key, nodeID, cell.Type).WithNode(nodeID)
	}
}

// SetOutput writes one output value of nodeID.
func (p *VariablePool) SetOutput(nodeID, key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.outputs[nodeID]
	if !ok {
		m = make(map[string]any)
		p.outputs[nodeID] = m
	}
	m[key] = value
}

// SetOutputs writes all outputs of nodeID. An empty map still marks the node
// as having produced outputs.
func (p *VariablePool) SetOutputs(nodeID string, values map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.outputs[nodeID]
	if !ok {
		m = make(map[string]any, len(values))
		p.outputs[nodeID] = m
	}
	for k, v := range values {
		m[k] = v
	}
}

// GetOutput resolves path (e.g. "result[0].field") against the outputs of
// nodeID. Node ids are unique across scopes, so the first pool holding any
// output of nodeID answers.
func (p *VariablePool) GetOutput(nodeID, path string) (any, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	for cur := p; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		m, ok := cur.outputs[nodeID]
		var root any
		var found bool
		if ok {
			root, found = m[segs[0].key]
		}
		cur.mu.RUnlock()
		if !ok {
			continue
		}
		if !found {
			return nil, types.Errorf(types.ErrVariableNotFound, "output %q of node %s not found", segs[0].key, nodeID).WithNode(nodeID)
		}
		return descend(root, segs[1:], path)
	}
	return nil, types.Errorf(types.ErrVariableNotFound, "node %s has not produced outputs", nodeID).WithNode(nodeID)
}

// Outputs returns a copy of the outputs of nodeID.
func (p *VariablePool) Outputs(nodeID string) (map[string]any, bool) {
	for cur := p; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		m, ok := cur.outputs[nodeID]
		var cp map[string]any
		if ok {
			cp = make(map[string]any, len(m))
			for k, v := range m {
				cp[k] = v
			}
		}
		cur.mu.RUnlock()
		if ok {
			return cp, true
		}
	}
	return nil, false
}
