package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Describe renders the plan as indented JSON. Map keys are emitted in sorted
// order, so equal plans always produce identical bytes.
func (p *Plan) Describe() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("describe pipeline %q: %w", p.Name, err)
	}
	return data, nil
}

// Fingerprint is the hex sha256 of Describe.
func (p *Plan) Fingerprint() (string, error) {
	data, err := p.Describe()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
