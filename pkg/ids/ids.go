// Package ids builds and splits the prefixed identifiers used across
// the engine: int_<provider>_<suffix>, conn_<provider>_<externalId>,
// pipe_<suffix>, ins_<provider>_<externalId>.
package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	PrefixIntegration = "int"
	PrefixConnection  = "conn"
	PrefixPipeline    = "pipe"
	PrefixInstitution = "ins"
	PrefixRun         = "run"
)

// New builds a prefixed id. Parts are joined with underscores; empty
// trailing parts are allowed for provider-scoped defaults ("int_fs_").
func New(prefix string, parts ...string) string {
	return strings.Join(append([]string{prefix}, parts...), "_")
}

// NewRandom builds a prefixed id with a random suffix.
func NewRandom(prefix string, parts ...string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")
	return New(prefix, append(parts, suffix)...)
}

// Split decomposes a prefixed id into (prefix, providerName, externalID).
// For kinds without a provider segment (pipe ids), providerName is the
// remainder and externalID is empty.
func Split(id string) (prefix, providerName, externalID string) {
	parts := strings.SplitN(id, "_", 3)
	switch len(parts) {
	case 1:
		return parts[0], "", ""
	case 2:
		return parts[0], parts[1], ""
	default:
		return parts[0], parts[1], parts[2]
	}
}

// ProviderName extracts the provider segment of an integration,
// connection, or institution id. An id without one is an error, never a
// silent no-op.
func ProviderName(id string) (string, error) {
	_, name, _ := Split(id)
	if name == "" {
		return "", fmt.Errorf("id %q has no provider segment", id)
	}
	return name, nil
}

// SwapPrefix rewrites the prefix of an id, e.g. conn_fs_x -> pipe_fs_x.
func SwapPrefix(id, prefix string) string {
	_, rest, external := Split(id)
	if external != "" {
		return New(prefix, rest, external)
	}
	return New(prefix, rest)
}
