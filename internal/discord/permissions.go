package discord

import (
	"errors"
	"slices"

	"github.com/bwmarrin/discordgo"
)

// ErrNotOperator is reported to users without the operator role.
var ErrNotOperator = errors.New("you need the operator role to do that")

// PermissionChecker validates that a Discord user holds the operator role
// before running commands that start or stop animations.
type PermissionChecker struct {
	operatorRoleID string
}

// NewPermissionChecker creates a PermissionChecker with the given role ID.
func NewPermissionChecker(operatorRoleID string) *PermissionChecker {
	return &PermissionChecker{operatorRoleID: operatorRoleID}
}

// IsOperator checks whether the interaction author has the operator role.
// If no role is configured, everyone is an operator. Interactions without a
// Member (direct messages) are rejected when a role is set.
func (p *PermissionChecker) IsOperator(i *discordgo.InteractionCreate) bool {
	if p.operatorRoleID == "" {
		return true
	}
	if i.Member == nil {
		return false
	}
	return slices.Contains(i.Member.Roles, p.operatorRoleID)
}
