package service

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/alanyoungcy/marginsim/internal/config"
)

// Fingerprint returns the canonical JSON of a run request and its BLAKE2b-256
// hash. Two requests that would simulate the same thing share a fingerprint;
// the cosmetic Name is left out.
func Fingerprint(req config.Run) (string, []byte, error) {
	canonical, err := json.Marshal(req)
	if err != nil {
		return "", nil, fmt.Errorf("service: fingerprint: %w", err)
	}
	req.Name = ""
	keyed, err := json.Marshal(req)
	if err != nil {
		return "", nil, fmt.Errorf("service: fingerprint: %w", err)
	}
	sum := blake2b.Sum256(keyed)
	return hex.EncodeToString(sum[:]), canonical, nil
}

// RunFromMap decodes a generic document, such as an expanded sweep variant,
// into a run request.
func RunFromMap(m map[string]any) (config.Run, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return config.Run{}, fmt.Errorf("service: run from map: %w", err)
	}
	var r config.Run
	if err := json.Unmarshal(raw, &r); err != nil {
		return config.Run{}, fmt.Errorf("service: run from map: %w", err)
	}
	return r, nil
}

// RunToMap encodes a run request as the generic document sweep grids are
// applied to.
func RunToMap(r config.Run) (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("service: run to map: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("service: run to map: %w", err)
	}
	return m, nil
}
