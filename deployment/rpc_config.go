package deployment

import (
	"errors"
	"fmt"
	"strings"
)

type URLSchemePreference int

const (
	URLSchemePreferenceNone URLSchemePreference = iota
	URLSchemePreferenceWS
	URLSchemePreferenceHTTP
)

func URLSchemePreferenceFromString(s string) (URLSchemePreference, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return URLSchemePreferenceNone, nil
	case "ws":
		return URLSchemePreferenceWS, nil
	case "http":
		return URLSchemePreferenceHTTP, nil
	default:
		return URLSchemePreferenceNone, fmt.Errorf("invalid URLSchemePreference: %s", s)
	}
}

func (u *URLSchemePreference) UnmarshalText(text []byte) error {
	preference, err := URLSchemePreferenceFromString(string(text))
	if err != nil {
		return err
	}
	*u = preference
	return nil
}

type RPC struct {
	Name               string              `toml:"name"`
	WSURL              string              `toml:"wsURL"`
	HTTPURL            string              `toml:"httpURL"`
	PreferredURLScheme URLSchemePreference `toml:"preferredURLScheme"`
}

// ToEndpoint returns the endpoint for the preferred scheme. With no preference the
// WS URL wins when set, otherwise the HTTP URL is used (local hardhat nodes are
// usually only reachable over HTTP).
func (r RPC) ToEndpoint() (string, error) {
	switch r.PreferredURLScheme {
	case URLSchemePreferenceNone:
		if r.WSURL != "" {
			return r.WSURL, nil
		}
		if r.HTTPURL != "" {
			return r.HTTPURL, nil
		}
		return "", fmt.Errorf("rpc %q has no url", r.Name)
	case URLSchemePreferenceWS:
		if r.WSURL == "" {
			return "", fmt.Errorf("rpc %q prefers ws but has no wsURL", r.Name)
		}
		return r.WSURL, nil
	case URLSchemePreferenceHTTP:
		if r.HTTPURL == "" {
			return "", fmt.Errorf("rpc %q prefers http but has no httpURL", r.Name)
		}
		return r.HTTPURL, nil
	default:
		return "", errors.New("unknown URLSchemePreference")
	}
}

// RPCConfig is the set of endpoints for one chain. The first reachable endpoint is
// primary, the rest are read backups.
type RPCConfig struct {
	ChainID uint64
	RPCs    []RPC
}
