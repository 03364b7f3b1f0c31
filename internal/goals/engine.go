package goals

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Completion verdicts.
const (
	ViaDirect    = "direct"
	ViaANDBranch = "and_branch"
	ViaORBranch  = "or_branch"
)

// Evaluation is the result of a goal completion check.
type Evaluation struct {
	Completed       bool
	Via             string
	MissingUpstream []uint
}

// Engine exposes the goal graph mutations and queries for all organizations.
// It holds no graph state: every read rebuilds from the store.
type Engine struct {
	db     *gorm.DB
	logger *slog.Logger
	limits PathLimits
}

// NewEngine creates a goal graph engine.
func NewEngine(db *gorm.DB, logger *slog.Logger, limits PathLimits) *Engine {
	if limits.MaxPaths <= 0 {
		limits.MaxPaths = DefaultPathLimits().MaxPaths
	}
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = DefaultPathLimits().MaxDepth
	}
	return &Engine{db: db, logger: logger, limits: limits}
}

// CreateGoal persists a new goal for the organization.
func (e *Engine) CreateGoal(goal *ConversionGoal) error {
	if goal.Name == "" {
		return &InvalidInputError{Reason: "goal name is required"}
	}
	switch goal.GoalType {
	case GoalTypeRevenueSource, GoalTypeTagEvent, GoalTypeManual:
	default:
		return &InvalidInputError{Reason: fmt.Sprintf("unknown goal type %q", goal.GoalType)}
	}
	goal.Active = true

	return sqlite.PerformWrite(e.logger, e.db, func(tx *gorm.DB) error {
		if err := tx.Create(goal).Error; err != nil {
			return fmt.Errorf("failed to create goal: %w", err)
		}
		return nil
	})
}

// GetGoal fetches one goal by id, active or not.
func (e *Engine) GetGoal(organizationID, goalID uint) (*ConversionGoal, error) {
	var goal ConversionGoal
	err := e.db.Where("organization_id = ? AND id = ?", organizationID, goalID).First(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Kind: "goal", ID: goalID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch goal: %w", err)
	}
	return &goal, nil
}

// DeactivateGoal marks a goal inactive. Goals are never deleted; the caller
// must pass confirm=true or no side effect occurs.
func (e *Engine) DeactivateGoal(organizationID, goalID uint, confirm bool) error {
	if !confirm {
		return &ConfirmationRequiredError{Operation: "goal deactivation"}
	}
	goal, err := e.GetGoal(organizationID, goalID)
	if err != nil {
		return err
	}

	return sqlite.PerformWrite(e.logger, e.db, func(tx *gorm.DB) error {
		err := tx.Model(&ConversionGoal{}).Where("id = ?", goal.ID).
			Update("active", false).Error
		if err != nil {
			return fmt.Errorf("failed to deactivate goal: %w", err)
		}
		return nil
	})
}

// BuildGraph rebuilds the organization's current graph.
func (e *Engine) BuildGraph(organizationID uint) (*FunnelGraph, error) {
	return BuildGraph(e.db, organizationID)
}

// CreateBranch persists a split or join around branchGoalID and the
// relationships it implies. For a split every child hangs downstream of the
// branch goal; for a join every child feeds into it. Each implied edge
// defaults to OR. The i-th flow tag applies to the i-th child, falling back
// to the first tag; at least one tag is required.
func (e *Engine) CreateBranch(organizationID, branchGoalID uint, childIDs []uint, flowTags []string, branchType string) (*GoalBranch, error) {
	if branchType != BranchSplit && branchType != BranchJoin {
		return nil, &InvalidInputError{Reason: fmt.Sprintf("unknown branch type %q", branchType)}
	}
	if len(childIDs) == 0 {
		return nil, &InvalidInputError{Reason: "branch requires at least one child goal"}
	}
	if len(flowTags) == 0 {
		return nil, &InvalidInputError{Reason: "branch requires at least one flow tag"}
	}

	if _, err := e.GetGoal(organizationID, branchGoalID); err != nil {
		return nil, err
	}
	for _, childID := range childIDs {
		if _, err := e.GetGoal(organizationID, childID); err != nil {
			return nil, err
		}
	}

	childJSON, err := json.Marshal(childIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize branch children: %w", err)
	}
	tagJSON, err := json.Marshal(flowTags)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize branch flow tags: %w", err)
	}

	branch := &GoalBranch{
		OrganizationID: organizationID,
		GoalID:         branchGoalID,
		BranchType:     branchType,
		ChildGoalIDs:   string(childJSON),
		FlowTags:       string(tagJSON),
	}

	err = sqlite.PerformWrite(e.logger, e.db, func(tx *gorm.DB) error {
		if err := tx.Create(branch).Error; err != nil {
			return fmt.Errorf("failed to create branch: %w", err)
		}
		for i, childID := range childIDs {
			tag := flowTags[0]
			if i < len(flowTags) {
				tag = flowTags[i]
			}
			upstream, downstream := branchGoalID, childID
			if branchType == BranchJoin {
				upstream, downstream = childID, branchGoalID
			}
			if err := upsertRelationship(tx, organizationID, upstream, downstream, RelationFunnel, OperatorOR, tag); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Created goal branch",
		slog.Uint64("organization_id", uint64(organizationID)),
		slog.Uint64("goal_id", uint64(branchGoalID)),
		slog.String("type", branchType),
		slog.Int("children", len(childIDs)))

	return branch, nil
}

// CreateMerge upserts one edge per parent into mergeGoalID, applying the
// operator uniformly to every incoming edge of the merge.
func (e *Engine) CreateMerge(organizationID, mergeGoalID uint, parentIDs []uint, operator string) error {
	if operator != OperatorOR && operator != OperatorAND {
		return &InvalidInputError{Reason: fmt.Sprintf("unknown operator %q", operator)}
	}
	if len(parentIDs) == 0 {
		return &InvalidInputError{Reason: "merge requires at least one parent goal"}
	}

	if _, err := e.GetGoal(organizationID, mergeGoalID); err != nil {
		return err
	}
	for _, parentID := range parentIDs {
		if _, err := e.GetGoal(organizationID, parentID); err != nil {
			return err
		}
	}

	return sqlite.PerformWrite(e.logger, e.db, func(tx *gorm.DB) error {
		for _, parentID := range parentIDs {
			if err := upsertRelationship(tx, organizationID, parentID, mergeGoalID, RelationFunnel, operator, ""); err != nil {
				return err
			}
		}
		return nil
	})
}

// upsertRelationship writes one edge keyed by
// (organization, upstream, downstream), overwriting operator and flow tag.
func upsertRelationship(tx *gorm.DB, organizationID, upstreamID, downstreamID uint, kind, operator, flowTag string) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO goal_relationships (organization_id, upstream_id, downstream_id, kind, operator, flow_tag, exclusive, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (organization_id, upstream_id, downstream_id) DO UPDATE SET
			kind = ?,
			operator = ?,
			flow_tag = ?,
			updated_at = ?
	`
	err := tx.Exec(query,
		organizationID, upstreamID, downstreamID, kind, operator, flowTag, now, now,
		kind, operator, flowTag, now).Error
	if err != nil {
		return fmt.Errorf("failed to upsert relationship %d->%d: %w", upstreamID, downstreamID, err)
	}
	return nil
}

// EvaluateCompletion decides whether a goal counts as completed given the set
// of directly completed goal ids. A goal in the set is completed outright.
// Otherwise its incoming edges decide: when any AND edge exists, every
// AND-gated upstream must be in the set and OR edges are not consulted; with
// only OR edges, one completed upstream suffices. Edges whose upstream goal
// is inactive or missing are ignored, matching the integrity rule applied at
// graph build. A goal with no incoming edges is completable only directly.
func (e *Engine) EvaluateCompletion(organizationID, goalID uint, completedGoals map[uint]bool) (Evaluation, error) {
	if completedGoals[goalID] {
		return Evaluation{Completed: true, Via: ViaDirect}, nil
	}

	if _, err := e.GetGoal(organizationID, goalID); err != nil {
		return Evaluation{}, err
	}

	var incoming []GoalRelationship
	err := e.db.Where("organization_id = ? AND downstream_id = ?", organizationID, goalID).
		Order("id ASC").
		Find(&incoming).Error
	if err != nil {
		return Evaluation{}, fmt.Errorf("failed to load incoming relationships: %w", err)
	}

	if len(incoming) == 0 {
		return Evaluation{Completed: false}, nil
	}

	upstreamIDs := make([]uint, 0, len(incoming))
	for _, rel := range incoming {
		upstreamIDs = append(upstreamIDs, rel.UpstreamID)
	}
	var upstreams []ConversionGoal
	err = e.db.Where("organization_id = ? AND id IN ? AND active = ?", organizationID, upstreamIDs, true).
		Find(&upstreams).Error
	if err != nil {
		return Evaluation{}, fmt.Errorf("failed to load upstream goals: %w", err)
	}
	activeUpstream := make(map[uint]bool, len(upstreams))
	for _, g := range upstreams {
		activeUpstream[g.ID] = true
	}

	var andUpstream, orUpstream []uint
	for _, rel := range incoming {
		if !activeUpstream[rel.UpstreamID] {
			continue
		}
		if rel.Operator == OperatorAND {
			andUpstream = append(andUpstream, rel.UpstreamID)
		} else {
			orUpstream = append(orUpstream, rel.UpstreamID)
		}
	}

	if len(andUpstream) > 0 {
		var missing []uint
		for _, id := range andUpstream {
			if !completedGoals[id] {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return Evaluation{Completed: false, MissingUpstream: missing}, nil
		}
		return Evaluation{Completed: true, Via: ViaANDBranch}, nil
	}

	for _, id := range orUpstream {
		if completedGoals[id] {
			return Evaluation{Completed: true, Via: ViaORBranch}, nil
		}
	}
	return Evaluation{Completed: false}, nil
}
