// Package campaign models campaign identity and naming rules.
//
// Campaigns are addressed by (namespace, normalized name); normalization is
// part of the domain so every caller produces the same lookup key.
package campaign

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	apperrors "github.com/bghira/text-game-engine/internal/platform/errors"
)

// DefaultNamespace scopes campaigns created without an explicit namespace.
const DefaultNamespace = "default"

// DefaultName is the fallback normalized name when input normalizes to empty.
const DefaultName = "main"

// maxNameLength caps normalized campaign names.
const maxNameLength = 64

// CreateInput captures user-provided fields for creating a campaign.
type CreateInput struct {
	Namespace        string
	Name             string
	CreatedByActorID string
}

// NormalizeCreateInput validates and canonicalizes create input.
func NormalizeCreateInput(input CreateInput) (CreateInput, error) {
	input.Namespace = strings.TrimSpace(input.Namespace)
	if input.Namespace == "" {
		input.Namespace = DefaultNamespace
	}
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return CreateInput{}, apperrors.New(apperrors.CodeCampaignNameEmpty, "campaign name is required")
	}
	input.CreatedByActorID = strings.TrimSpace(input.CreatedByActorID)
	return input, nil
}

// NormalizeName collapses a display name into the unique lookup key:
// NFKC-normalized, whitespace-collapsed, restricted to ascii word characters,
// lowercased, and capped at 64 characters. Empty results fall back to "main".
func NormalizeName(value string) string {
	value = norm.NFKC.String(strings.TrimSpace(value))
	value = strings.Join(strings.Fields(value), " ")

	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '_', r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	normalized := b.String()
	if len(normalized) > maxNameLength {
		normalized = normalized[:maxNameLength]
	}
	if normalized == "" {
		return DefaultName
	}
	return normalized
}
