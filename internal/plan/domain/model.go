package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/crmbilling/internal/proration"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusRetired Status = "retired"
)

type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

func ParseBillingCycle(value string) (BillingCycle, error) {
	switch BillingCycle(strings.ToLower(strings.TrimSpace(value))) {
	case CycleMonthly:
		return CycleMonthly, nil
	case CycleAnnual, "yearly":
		return CycleAnnual, nil
	default:
		return "", ErrInvalidCycle
	}
}

// Days is the length of one billing period.
func (c BillingCycle) Days() int {
	if c == CycleAnnual {
		return proration.AnnualCycleDays
	}
	return proration.MonthlyCycleDays
}

type Plan struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	Code             string            `gorm:"uniqueIndex;not null" json:"code"`
	Name             string            `gorm:"not null" json:"name"`
	MonthlyPrice     decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"monthly_price"`
	AnnualPrice      decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"annual_price"`
	MaxAgents        int               `gorm:"not null" json:"max_agents"`
	MaxLeadsPerMonth int               `gorm:"not null" json:"max_leads_per_month"`
	StorageMB        int               `gorm:"column:storage_mb;not null" json:"storage_mb"`
	Features         datatypes.JSONMap `gorm:"type:jsonb" json:"features"`
	Status           Status            `gorm:"not null" json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

func (p Plan) Price(cycle BillingCycle) decimal.Decimal {
	if cycle == CycleAnnual {
		return p.AnnualPrice
	}
	return p.MonthlyPrice
}

func (p Plan) Purchasable() bool {
	return p.Status == StatusActive
}

func (p Plan) HasFeature(name string) bool {
	if p.Features == nil {
		return false
	}
	enabled, ok := p.Features[name].(bool)
	return ok && enabled
}
