package enums

import "fmt"

// CreditTransactionType describes the direction of a credit_usage row.
type CreditTransactionType string

const (
	CreditTransactionDebit      CreditTransactionType = "debit"
	CreditTransactionRefund     CreditTransactionType = "refund"
	CreditTransactionAdjustment CreditTransactionType = "adjustment"
	CreditTransactionPurchase   CreditTransactionType = "purchase"
)

var validCreditTransactionTypes = []CreditTransactionType{
	CreditTransactionDebit,
	CreditTransactionRefund,
	CreditTransactionAdjustment,
	CreditTransactionPurchase,
}

// IsValid reports whether the value is a known transaction type.
func (t CreditTransactionType) IsValid() bool {
	for _, candidate := range validCreditTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseCreditTransactionType converts the raw string to CreditTransactionType.
func ParseCreditTransactionType(value string) (CreditTransactionType, error) {
	for _, candidate := range validCreditTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit transaction type %q", value)
}

// ServiceCategory groups billable services in service_credit_costs.
type ServiceCategory string

const (
	ServiceCategoryAI      ServiceCategory = "ai"
	ServiceCategoryHosting ServiceCategory = "hosting"
	ServiceCategoryDomain  ServiceCategory = "domain"
	ServiceCategoryEmail   ServiceCategory = "email"
	ServiceCategoryStorage ServiceCategory = "storage"
	ServiceCategoryOther   ServiceCategory = "other"
)

var validServiceCategories = []ServiceCategory{
	ServiceCategoryAI,
	ServiceCategoryHosting,
	ServiceCategoryDomain,
	ServiceCategoryEmail,
	ServiceCategoryStorage,
	ServiceCategoryOther,
}

// IsValid reports whether the value is a known service category.
func (c ServiceCategory) IsValid() bool {
	for _, candidate := range validServiceCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseServiceCategory converts the raw string to ServiceCategory.
func ParseServiceCategory(value string) (ServiceCategory, error) {
	for _, candidate := range validServiceCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid service category %q", value)
}

// CreditReferenceType names the entity a credit_usage row points at.
type CreditReferenceType string

const (
	CreditReferenceStore       CreditReferenceType = "store"
	CreditReferenceProduct     CreditReferenceType = "product"
	CreditReferenceGeneration  CreditReferenceType = "generation"
	CreditReferenceCreditUsage CreditReferenceType = "credit_usage"
	CreditReferencePayment     CreditReferenceType = "payment"
)

var validCreditReferenceTypes = []CreditReferenceType{
	CreditReferenceStore,
	CreditReferenceProduct,
	CreditReferenceGeneration,
	CreditReferenceCreditUsage,
	CreditReferencePayment,
}

// IsValid reports whether the value is a known reference type.
func (t CreditReferenceType) IsValid() bool {
	for _, candidate := range validCreditReferenceTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseCreditReferenceType converts the raw string to CreditReferenceType.
func ParseCreditReferenceType(value string) (CreditReferenceType, error) {
	for _, candidate := range validCreditReferenceTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit reference type %q", value)
}

// BillingType describes how a service cost is charged.
type BillingType string

const (
	BillingTypePerUse   BillingType = "per_use"
	BillingTypePerDay   BillingType = "per_day"
	BillingTypePerMonth BillingType = "per_month"
	BillingTypePerItem  BillingType = "per_item"
	BillingTypePerMB    BillingType = "per_mb"
	BillingTypeFlatRate BillingType = "flat_rate"
)

var validBillingTypes = []BillingType{
	BillingTypePerUse,
	BillingTypePerDay,
	BillingTypePerMonth,
	BillingTypePerItem,
	BillingTypePerMB,
	BillingTypeFlatRate,
}

// IsValid reports whether the value is a known billing type.
func (b BillingType) IsValid() bool {
	for _, candidate := range validBillingTypes {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBillingType converts the raw string to BillingType.
func ParseBillingType(value string) (BillingType, error) {
	for _, candidate := range validBillingTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing type %q", value)
}
