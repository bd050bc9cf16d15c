package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ProvisioningProgress is the polled checkpoint persisted in stores.provisioning_progress.
type ProvisioningProgress struct {
	Step      string     `json:"step"`
	Current   int        `json:"current"`
	Total     int        `json:"total"`
	Message   string     `json:"message,omitempty"`
	Error     string     `json:"error,omitempty"`
	Attempt   int        `json:"attempt"`
	Demo      bool       `json:"demo,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Value marshals the checkpoint into JSON.
func (p ProvisioningProgress) Value() (driver.Value, error) {
	buf, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

// Scan decodes JSON into the checkpoint.
func (p *ProvisioningProgress) Scan(value interface{}) error {
	if value == nil {
		*p = ProvisioningProgress{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("provisioning progress: unsupported scan type %T", value)
	}
	if len(raw) == 0 {
		*p = ProvisioningProgress{}
		return nil
	}

	var result ProvisioningProgress
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}
	*p = result
	return nil
}
