package enums

import "fmt"

// StoreStatus is the registry lifecycle of a store (store_status enum in Postgres).
type StoreStatus string

const (
	StoreStatusPendingDatabase StoreStatus = "pending_database"
	StoreStatusProvisioning    StoreStatus = "provisioning"
	StoreStatusProvisioned     StoreStatus = "provisioned"
	StoreStatusActive          StoreStatus = "active"
	StoreStatusDemo            StoreStatus = "demo"
	StoreStatusSuspended       StoreStatus = "suspended"
	StoreStatusInactive        StoreStatus = "inactive"
	StoreStatusFailed          StoreStatus = "failed"
)

var validStoreStatuses = []StoreStatus{
	StoreStatusPendingDatabase,
	StoreStatusProvisioning,
	StoreStatusProvisioned,
	StoreStatusActive,
	StoreStatusDemo,
	StoreStatusSuspended,
	StoreStatusInactive,
	StoreStatusFailed,
}

// storeTransitions lists every allowed edge. Forward provisioning edges only
// leave from the direct predecessor; suspended/inactive are admin actions.
var storeTransitions = map[StoreStatus][]StoreStatus{
	StoreStatusPendingDatabase: {StoreStatusProvisioning, StoreStatusFailed},
	StoreStatusProvisioning:    {StoreStatusProvisioned, StoreStatusFailed},
	StoreStatusProvisioned:     {StoreStatusActive, StoreStatusDemo, StoreStatusFailed},
	StoreStatusActive:          {StoreStatusSuspended, StoreStatusInactive},
	StoreStatusDemo:            {StoreStatusActive, StoreStatusSuspended, StoreStatusInactive},
	StoreStatusSuspended:       {StoreStatusActive, StoreStatusInactive},
	StoreStatusInactive:        {StoreStatusActive},
	StoreStatusFailed:          {StoreStatusPendingDatabase},
}

// String implements fmt.Stringer.
func (s StoreStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known StoreStatus.
func (s StoreStatus) IsValid() bool {
	for _, candidate := range validStoreStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsServing reports whether the store accepts storefront traffic.
func (s StoreStatus) IsServing() bool {
	return s == StoreStatusActive || s == StoreStatusDemo
}

// IsInProgress reports whether provisioning has not reached a resting state yet.
func (s StoreStatus) IsInProgress() bool {
	return s == StoreStatusPendingDatabase || s == StoreStatusProvisioning || s == StoreStatusProvisioned
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s StoreStatus) CanTransition(next StoreStatus) bool {
	for _, candidate := range storeTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseStoreStatus converts raw input into a StoreStatus.
func ParseStoreStatus(value string) (StoreStatus, error) {
	for _, candidate := range validStoreStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid store status %q", value)
}

// ProvisioningStatus is the fine-grained sub-state tracked while a store provisions.
type ProvisioningStatus string

const (
	ProvisioningStatusPending         ProvisioningStatus = "pending"
	ProvisioningStatusTablesCreating  ProvisioningStatus = "tables_creating"
	ProvisioningStatusTablesCompleted ProvisioningStatus = "tables_completed"
	ProvisioningStatusSeedRunning     ProvisioningStatus = "seed_running"
	ProvisioningStatusSeedCompleted   ProvisioningStatus = "seed_completed"
	ProvisioningStatusDemoRunning     ProvisioningStatus = "demo_running"
	ProvisioningStatusCompleted       ProvisioningStatus = "completed"
	ProvisioningStatusFailed          ProvisioningStatus = "failed"
)

var validProvisioningStatuses = []ProvisioningStatus{
	ProvisioningStatusPending,
	ProvisioningStatusTablesCreating,
	ProvisioningStatusTablesCompleted,
	ProvisioningStatusSeedRunning,
	ProvisioningStatusSeedCompleted,
	ProvisioningStatusDemoRunning,
	ProvisioningStatusCompleted,
	ProvisioningStatusFailed,
}

var provisioningTransitions = map[ProvisioningStatus][]ProvisioningStatus{
	ProvisioningStatusPending:         {ProvisioningStatusTablesCreating},
	ProvisioningStatusTablesCreating:  {ProvisioningStatusTablesCompleted},
	ProvisioningStatusTablesCompleted: {ProvisioningStatusSeedRunning},
	ProvisioningStatusSeedRunning:     {ProvisioningStatusSeedCompleted},
	ProvisioningStatusSeedCompleted:   {ProvisioningStatusDemoRunning, ProvisioningStatusCompleted},
	ProvisioningStatusDemoRunning:     {ProvisioningStatusCompleted},
	ProvisioningStatusFailed:          {ProvisioningStatusPending},
}

// String implements fmt.Stringer.
func (s ProvisioningStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ProvisioningStatus.
func (s ProvisioningStatus) IsValid() bool {
	for _, candidate := range validProvisioningStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransition reports whether next may follow s. Any non-terminal state may fail.
func (s ProvisioningStatus) CanTransition(next ProvisioningStatus) bool {
	if next == ProvisioningStatusFailed {
		return s != ProvisioningStatusCompleted && s != ProvisioningStatusFailed
	}
	for _, candidate := range provisioningTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseProvisioningStatus converts raw input into a ProvisioningStatus.
func ParseProvisioningStatus(value string) (ProvisioningStatus, error) {
	for _, candidate := range validProvisioningStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provisioning status %q", value)
}
