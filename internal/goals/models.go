// Package goals maintains the per-organization directed graph of conversion
// goals and answers completion and path queries over it.
package goals

import (
	"encoding/json"
	"fmt"
	"time"
)

// Goal types.
const (
	GoalTypeRevenueSource = "revenue_source"
	GoalTypeTagEvent      = "tag_event"
	GoalTypeManual        = "manual"
)

// Relationship kinds and operators.
const (
	RelationFunnel     = "funnel"
	RelationCorrelated = "correlated"

	OperatorOR  = "OR"
	OperatorAND = "AND"
)

// Branch types.
const (
	BranchSplit = "split"
	BranchJoin  = "join"
)

// ConversionGoal is a named milestone node. Goals are never deleted, only
// deactivated, so relationship history stays resolvable.
type ConversionGoal struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	OrganizationID  uint   `gorm:"uniqueIndex:idx_goal_unique;not null"`
	Name            string `gorm:"uniqueIndex:idx_goal_unique;size:255;not null"`
	GoalType        string `gorm:"size:32;not null"`
	Category        string `gorm:"size:64"`
	ConnectorOrigin string `gorm:"size:64"`
	IsConversion    bool   `gorm:"not null;default:false"`
	FlowTag         string `gorm:"size:64"`
	Exclusive       bool   `gorm:"not null;default:false"`
	DisplayOrder    int    `gorm:"not null;default:0"`
	Active          bool   `gorm:"not null;default:true"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GoalRelationship is one directed edge upstream -> downstream. The operator
// lives on the edge, not the node: a downstream goal is AND-gated as soon as
// any incoming edge carries AND.
type GoalRelationship struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	OrganizationID uint   `gorm:"uniqueIndex:idx_goal_relationship_unique;not null"`
	UpstreamID     uint   `gorm:"uniqueIndex:idx_goal_relationship_unique;not null"`
	DownstreamID   uint   `gorm:"uniqueIndex:idx_goal_relationship_unique;not null"`
	Kind           string `gorm:"size:32;not null;default:funnel"`
	Operator       string `gorm:"size:8;not null;default:OR"`
	FlowTag        string `gorm:"size:64"`
	Exclusive      bool   `gorm:"not null;default:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// GoalBranch annotates a split or join around one goal. Creating a branch
// also creates the underlying relationships; the record itself is a semantic
// marker for rendering.
type GoalBranch struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	OrganizationID uint   `gorm:"not null;index"`
	GoalID         uint   `gorm:"not null;index"`
	BranchType     string `gorm:"size:8;not null"`
	ChildGoalIDs   string `gorm:"type:text;not null"`
	FlowTags       string `gorm:"type:text;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Children deserializes the branch's child goal ids.
func (b *GoalBranch) Children() ([]uint, error) {
	var ids []uint
	if err := json.Unmarshal([]byte(b.ChildGoalIDs), &ids); err != nil {
		return nil, fmt.Errorf("failed to deserialize branch children: %w", err)
	}
	return ids, nil
}

// Tags deserializes the branch's per-child flow tags.
func (b *GoalBranch) Tags() ([]string, error) {
	var tags []string
	if err := json.Unmarshal([]byte(b.FlowTags), &tags); err != nil {
		return nil, fmt.Errorf("failed to deserialize branch flow tags: %w", err)
	}
	return tags, nil
}

// NotFoundError reports a goal or branch referenced by an id that does not
// exist for the organization.
type NotFoundError struct {
	Kind string
	ID   uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// ConfirmationRequiredError reports a destructive operation invoked without
// explicit confirmation. No side effect has occurred.
type ConfirmationRequiredError struct {
	Operation string
}

func (e *ConfirmationRequiredError) Error() string {
	return fmt.Sprintf("%s requires explicit confirmation", e.Operation)
}

// InvalidInputError reports a malformed mutation argument.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return e.Reason
}
