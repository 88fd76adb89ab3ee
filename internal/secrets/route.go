package secrets

import (
	"encoding/json"
	"fmt"
)

// ManagedParamKind is the closed sum type of server-injected parameter
// kinds, replacing the source's dynamic dispatch over arbitrary Python
// types (spec.md §9).
type ManagedParamKind string

const (
	KindSecret       ManagedParamKind = "Secret"
	KindOAuth2Secret ManagedParamKind = "OAuth2Secret"
	KindDataSource   ManagedParamKind = "DataSource"
	KindRequest      ManagedParamKind = "Request"
)

// ManagedParam describes one managed parameter of an action, as recorded
// by the package loader.
type ManagedParam struct {
	Name string           `json:"name"`
	Kind ManagedParamKind `json:"kind"`
}

// ManagedParams maps a managed parameter name to its resolved JSON value,
// ready to be merged into the worker invocation payload.
type ManagedParams map[string]json.RawMessage

// Route picks, for each managed parameter, the matching sub-tree of a
// decrypted envelope by declared kind.
func Route(params []ManagedParam, tree *DecryptedTree) (ManagedParams, error) {
	out := make(ManagedParams, len(params))
	for _, p := range params {
		switch p.Kind {
		case KindSecret, KindOAuth2Secret:
			v, ok := tree.Secrets[p.Name]
			if !ok {
				return nil, fmt.Errorf("secrets: no secret material for managed parameter %q", p.Name)
			}
			out[p.Name] = v
		case KindDataSource:
			v, ok := tree.DataContext[p.Name]
			if !ok {
				return nil, fmt.Errorf("secrets: no data context for managed parameter %q", p.Name)
			}
			out[p.Name] = v
		case KindRequest:
			v, ok := tree.InvocationContext[p.Name]
			if !ok {
				// Request is often synthesized rather than supplied; absence
				// is not fatal the way a missing secret is.
				continue
			}
			out[p.Name] = v
		default:
			return nil, fmt.Errorf("secrets: unknown managed parameter kind %q", p.Kind)
		}
	}
	return out, nil
}
