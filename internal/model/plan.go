package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan is a license tier: price, duration, feature flags and default usage limits.
type Plan struct {
	Name         string
	MonthlyPrice decimal.Decimal
	Duration     time.Duration
	Features     []string
	Limits       map[ResourceType]int
}

const (
	PlanTrial        = "trial"
	PlanBasic        = "basic"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"
)

const (
	FeatureAppointments  = "appointments"
	FeaturePrescriptions = "prescriptions"
	FeatureBilling       = "billing"
	FeatureInsurance     = "insurance"
	FeatureReports       = "reports"
	FeatureTelemedicine  = "telemedicine"
	FeatureAPIAccess     = "api_access"
	FeatureMultiClinic   = "multi_clinic"
)

const day = 24 * time.Hour

var plans = map[string]Plan{
	PlanTrial: {
		Name:         PlanTrial,
		MonthlyPrice: decimal.Zero,
		Duration:     14 * day,
		Features:     []string{FeatureAppointments, FeaturePrescriptions},
		Limits: map[ResourceType]int{
			ResourceUsers: 3, ResourceClinics: 1, ResourcePatients: 50, ResourceAppointments: 100,
		},
	},
	PlanBasic: {
		Name:         PlanBasic,
		MonthlyPrice: decimal.RequireFromString("49.00"),
		Duration:     365 * day,
		Features:     []string{FeatureAppointments, FeaturePrescriptions, FeatureBilling},
		Limits: map[ResourceType]int{
			ResourceUsers: 10, ResourceClinics: 1, ResourcePatients: 1000, ResourceAppointments: 2000,
		},
	},
	PlanProfessional: {
		Name:         PlanProfessional,
		MonthlyPrice: decimal.RequireFromString("149.00"),
		Duration:     365 * day,
		Features: []string{
			FeatureAppointments, FeaturePrescriptions, FeatureBilling,
			FeatureInsurance, FeatureReports, FeatureTelemedicine,
		},
		Limits: map[ResourceType]int{
			ResourceUsers: 50, ResourceClinics: 3, ResourcePatients: 10000, ResourceAppointments: 20000,
		},
	},
	PlanEnterprise: {
		Name:         PlanEnterprise,
		MonthlyPrice: decimal.RequireFromString("499.00"),
		Duration:     365 * day,
		Features: []string{
			FeatureAppointments, FeaturePrescriptions, FeatureBilling, FeatureInsurance,
			FeatureReports, FeatureTelemedicine, FeatureAPIAccess, FeatureMultiClinic,
		},
		Limits: map[ResourceType]int{
			ResourceUsers: UnlimitedUsage, ResourceClinics: UnlimitedUsage,
			ResourcePatients: UnlimitedUsage, ResourceAppointments: UnlimitedUsage,
		},
	},
}

// LookupPlan returns the plan definition by name.
func LookupPlan(name string) (Plan, bool) {
	p, ok := plans[name]
	return p, ok
}

// TotalPrice is the plan price for the given number of months.
func (p Plan) TotalPrice(months int) decimal.Decimal {
	return p.MonthlyPrice.Mul(decimal.NewFromInt(int64(months)))
}
