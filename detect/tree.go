package detect

import (
	"context"
	"fmt"

	"fdsengine/core"
)

// TreeEvaluator walks a rule's condition tree
type TreeEvaluator struct {
	leaves *LeafEvaluator
}

// NewTreeEvaluator creates a tree evaluator over a leaf evaluator
func NewTreeEvaluator(leaves *LeafEvaluator) *TreeEvaluator {
	return &TreeEvaluator{leaves: leaves}
}

// Evaluate returns whether node matches for anchor. AND stops at the first false
// child and OR at the first true one; errors from leaves are returned unchanged.
func (te *TreeEvaluator) Evaluate(ctx context.Context, node core.Node, window []core.Transaction, anchor core.Transaction) (bool, error) {
	switch n := node.(type) {
	case *core.Leaf:
		return te.leaves.Evaluate(ctx, n, window, anchor)
	case *core.Group:
		return te.evaluateGroup(ctx, n, window, anchor)
	case nil:
		return false, fmt.Errorf("%w: nil condition node", core.ErrInvalidConfiguration)
	default:
		return false, fmt.Errorf("%w: unknown condition node %T", core.ErrInvalidConfiguration, n)
	}
}

func (te *TreeEvaluator) evaluateGroup(ctx context.Context, g *core.Group, window []core.Transaction, anchor core.Transaction) (bool, error) {
	if len(g.Children) == 0 {
		return false, fmt.Errorf("%w: empty %s group", core.ErrInvalidConfiguration, g.Logic)
	}

	var stopOn bool
	switch g.Logic {
	case core.LogicAnd:
		stopOn = false
	case core.LogicOr:
		stopOn = true
	default:
		return false, fmt.Errorf("%w: unknown logic %q", core.ErrInvalidConfiguration, g.Logic)
	}

	for _, child := range g.Children {
		matched, err := te.Evaluate(ctx, child, window, anchor)
		if err != nil {
			return false, err
		}
		if matched == stopOn {
			return stopOn, nil
		}
	}
	return !stopOn, nil
}
