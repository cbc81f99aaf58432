// Package tenant resolves the business a call belongs to into the profile
// that configures its voice agent: the instruction prompt, the greeting and
// the functions the agent may call.
//
// Profiles are opaque to the bridge. The instruction text and function list
// are passed through to the agent unmodified.
package tenant

import (
	"context"
	"errors"
	"slices"
)

// ErrNotFound is returned when no profile exists for a tenant id.
var ErrNotFound = errors.New("tenant: not found")

// Profile is the per-tenant agent configuration.
type Profile struct {
	// ID is the tenant identifier carried in the call's custom parameters.
	ID string `yaml:"id" json:"id"`

	// Name is the business's display name.
	Name string `yaml:"name" json:"name"`

	// Instructions is the natural-language prompt for the agent.
	Instructions string `yaml:"instructions" json:"instructions"`

	// Greeting is spoken by the agent when the call connects. Optional.
	Greeting string `yaml:"greeting" json:"greeting"`

	// Language is the agent language code (e.g. "en"). Optional.
	Language string `yaml:"language" json:"language"`

	// Functions restricts the catalogue offered to the agent. Empty means
	// every function in the catalogue.
	Functions []string `yaml:"functions" json:"functions"`
}

// Allows reports whether the profile permits function name.
func (p Profile) Allows(name string) bool {
	return len(p.Functions) == 0 || slices.Contains(p.Functions, name)
}

// Store looks up tenant profiles.
type Store interface {
	// Get returns the profile for id, or an error wrapping [ErrNotFound].
	Get(ctx context.Context, id string) (Profile, error)
}
