package verification

import (
	"fmt"

	"funding-workflow/internal/models"
)

// edge is an outgoing transition. A non-empty branch map makes the edge
// conditional on the session's business type.
type edge struct {
	next   models.StepKind
	branch map[models.BusinessType]models.StepKind
}

// Graph is the directed step graph of a verification session.
type Graph struct {
	first       models.StepKind
	final       models.StepKind
	branchPoint models.StepKind
	edges       map[models.StepKind]edge
}

// DefaultGraph is
//
//	business_info -> cac -> business_type -> [video_recording unless saas] -> bank_connection -> submit
func DefaultGraph() *Graph {
	return &Graph{
		first:       models.StepBusinessInfo,
		final:       models.StepSubmit,
		branchPoint: models.StepBusinessType,
		edges: map[models.StepKind]edge{
			models.StepBusinessInfo: {next: models.StepCAC},
			models.StepCAC:          {next: models.StepBusinessType},
			models.StepBusinessType: {branch: map[models.BusinessType]models.StepKind{
				models.BusinessTypeStandard: models.StepVideoRecording,
				models.BusinessTypeSaaS:     models.StepBankConnection,
			}},
			models.StepVideoRecording: {next: models.StepBankConnection},
			models.StepBankConnection: {next: models.StepSubmit},
		},
	}
}

func (g *Graph) First() models.StepKind       { return g.first }
func (g *Graph) Final() models.StepKind       { return g.final }
func (g *Graph) BranchPoint() models.StepKind { return g.branchPoint }

// Next returns the step after from. Crossing the branch point requires a
// classified business type.
func (g *Graph) Next(from models.StepKind, bt models.BusinessType) (models.StepKind, error) {
	e, ok := g.edges[from]
	if !ok {
		return "", fmt.Errorf("step %s has no successor", from)
	}
	if e.branch == nil {
		return e.next, nil
	}
	next, ok := e.branch[bt]
	if !ok {
		return "", fmt.Errorf("step %s needs a business type, got %q", from, bt)
	}
	return next, nil
}

// Sequence returns the collection steps for bt in order, excluding the final
// submit step. An unclassified session yields the steps up to the branch point.
func (g *Graph) Sequence(bt models.BusinessType) []models.StepKind {
	var seq []models.StepKind
	for step := g.first; step != g.final; {
		seq = append(seq, step)
		next, err := g.Next(step, bt)
		if err != nil {
			break
		}
		step = next
	}
	return seq
}

// Previous returns the step before current along the effective path for bt.
func (g *Graph) Previous(current models.StepKind, bt models.BusinessType) (models.StepKind, bool) {
	path := append(g.Sequence(bt), g.final)
	for i, step := range path {
		if step == current {
			if i == 0 {
				return "", false
			}
			return path[i-1], true
		}
	}
	return "", false
}

// Requires reports whether step is part of the effective path for bt.
func (g *Graph) Requires(step models.StepKind, bt models.BusinessType) bool {
	for _, s := range g.Sequence(bt) {
		if s == step {
			return true
		}
	}
	return false
}

// Missing lists required steps for bt that are not in collected. For an
// unclassified session the branch point itself is always missing.
func (g *Graph) Missing(bt models.BusinessType, collected map[models.StepKind]models.StepResult) []string {
	var missing []string
	for _, step := range g.Sequence(bt) {
		if _, ok := collected[step]; !ok {
			missing = append(missing, string(step))
		}
	}
	return missing
}
