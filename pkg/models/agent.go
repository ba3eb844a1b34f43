// Package models defines the core domain models for the agent work marketplace.
package models

import "time"

// Reputation score domain. Scores are fixed-point basis points: 10000 = perfect trust.
const (
	ReputationFloor   int64 = 0
	ReputationCeiling int64 = 10000
	ReputationInitial int64 = 5000
)

// Agent is the trust ledger's record of a registered worker: its stake custody,
// bounded reputation score and lifetime outcome counters.
type Agent struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"        validate:"required"`
	Name         string    `json:"name"         validate:"required"`
	Capabilities []string  `json:"capabilities" validate:"required,min=1"`
	Staked       uint64    `json:"staked"`
	Reputation   int64     `json:"reputation"`
	Completed    uint64    `json:"completed"`
	Failed       uint64    `json:"failed"`
	TotalEarned  uint64    `json:"total_earned"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasCapability reports whether the agent declared the given capability tag.
func (a *Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}

	return false
}

// NormalizeCapabilities collapses duplicate tags while preserving declaration order.
func NormalizeCapabilities(capabilities []string) []string {
	seen := make(map[string]bool, len(capabilities))
	normalized := make([]string, 0, len(capabilities))

	for _, c := range capabilities {
		if c == "" || seen[c] {
			continue
		}

		seen[c] = true

		normalized = append(normalized, c)
	}

	return normalized
}

// ClampReputation bounds a raw score to the [floor, ceiling] domain.
func ClampReputation(score int64) int64 {
	if score < ReputationFloor {
		return ReputationFloor
	}

	if score > ReputationCeiling {
		return ReputationCeiling
	}

	return score
}
