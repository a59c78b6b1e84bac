// Package authz holds the capability predicates for guild-scoped
// operations. Predicates are pure functions over a session context and a
// target; handlers call them before touching any service, so a denied
// request never reaches the domain layer.
package authz

import (
	"fmt"
	"net/http"
	"slices"
)

// Context is the authenticated identity a request carries.
type Context struct {
	UserID       string
	Username     string
	IsAdmin      bool
	IsSuperAdmin bool
	GuildIDs     []string
}

// MemberOf reports whether the user belongs to the guild.
func (c Context) MemberOf(guildID string) bool {
	return slices.Contains(c.GuildIDs, guildID)
}

// AdminOf reports whether the user administers the guild.
func (c Context) AdminOf(guildID string) bool {
	return c.IsAdmin && c.MemberOf(guildID)
}

// Error is a denied capability check.
type Error struct {
	Message    string `json:"message"`
	Action     string `json:"action"`
	ResourceID string `json:"resourceId,omitempty"`
	Code       string `json:"code"`
	Status     int    `json:"status"`
}

func (e *Error) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("%s: %s (resource %s)", e.Action, e.Message, e.ResourceID)
	}
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// Denied builds the canonical authorization error for an action.
func Denied(action, resourceID, message string) *Error {
	return &Error{
		Message:    message,
		Action:     action,
		ResourceID: resourceID,
		Code:       "AUTHORIZATION_ERROR",
		Status:     http.StatusForbidden,
	}
}

// RequestTarget is the slice of a user request the predicates need. Defined
// here so authz does not depend on the request package.
type RequestTarget struct {
	ID      string
	GuildID string
	UserID  string
	Status  string
}

// StatusOpen is the only request status that accepts cancellation and
// comments.
const StatusOpen = "open"

// CanCreateRequest allows guild admins to open requests in their guild.
func CanCreateRequest(ctx Context, guildID string) bool {
	return ctx.AdminOf(guildID)
}

// CanViewRequest allows the owner, any super admin, and admins of the
// request's guild.
func CanViewRequest(ctx Context, r RequestTarget) bool {
	if ctx.UserID == r.UserID || ctx.IsSuperAdmin {
		return true
	}
	return ctx.AdminOf(r.GuildID)
}

// CanCancelRequest allows the owner to withdraw a request that is still
// open.
func CanCancelRequest(ctx Context, r RequestTarget) bool {
	return ctx.UserID == r.UserID && r.Status == StatusOpen
}

// CanCommentOnRequest allows anyone who can view the request, while it is
// open.
func CanCommentOnRequest(ctx Context, r RequestTarget) bool {
	return CanViewRequest(ctx, r) && r.Status == StatusOpen
}

// CanChangeRequestStatus is reserved for super admins.
func CanChangeRequestStatus(ctx Context, r RequestTarget) bool {
	return ctx.IsSuperAdmin
}

// CanDeleteRequest is reserved for super admins.
func CanDeleteRequest(ctx Context, r RequestTarget) bool {
	return ctx.IsSuperAdmin
}

// CanListRequests allows admins.
func CanListRequests(ctx Context) bool {
	return ctx.IsAdmin
}

// RequireGuildMembership enforces that the user belongs to the guild a
// request targets, however the guild id was resolved (query, body, route,
// header, or upload metadata).
func RequireGuildMembership(ctx Context, guildID string) error {
	if guildID == "" {
		return Denied("guild-membership", "", "No guild specified")
	}
	if !ctx.MemberOf(guildID) {
		return Denied("guild-membership", guildID, "You are not a member of this guild")
	}
	return nil
}
