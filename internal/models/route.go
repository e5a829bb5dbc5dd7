package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrRouteNotChild = errors.New("route is not a child of its parent route")

const routeSep = "/"

// ContextSystemPrompt is the operative instruction text for a
// server/category/channel scope.
type ContextSystemPrompt struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Route     string    `gorm:"uniqueIndex;not null" json:"route"`
	Prompt    string    `gorm:"type:text;not null" json:"prompt"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BuildRoute joins the non-empty ids of a scope into a context route.
func BuildRoute(ids ...string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.Trim(id, routeSep); id != "" {
			parts = append(parts, id)
		}
	}
	return strings.Join(parts, routeSep)
}

// IsChildRoute reports whether child sits strictly below parent.
func IsChildRoute(parent, child string) bool {
	if parent == "" {
		return child != ""
	}
	return strings.HasPrefix(child, parent+routeSep)
}

// ValidateChildRoute returns ErrRouteNotChild when child does not extend parent.
func ValidateChildRoute(parent, child string) error {
	if !IsChildRoute(parent, child) {
		return fmt.Errorf("%w: %q under %q", ErrRouteNotChild, child, parent)
	}
	return nil
}

func routeMatches(prefix, route string) bool {
	return prefix == route || IsChildRoute(prefix, route)
}

// ResolvePrompt returns the most specific prompt whose route is route itself
// or one of its ancestors. nil when none applies.
func ResolvePrompt(prompts []*ContextSystemPrompt, route string) *ContextSystemPrompt {
	var best *ContextSystemPrompt
	for _, p := range prompts {
		if p.Route == "" || !routeMatches(p.Route, route) {
			continue
		}
		if best == nil || len(p.Route) > len(best.Route) {
			best = p
		}
	}
	return best
}
