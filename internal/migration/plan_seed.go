package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/railzwaylabs/crmbilling/internal/config"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	planrepository "github.com/railzwaylabs/crmbilling/internal/plan/repository"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// seedPlanCatalog upserts the configured plans keyed by code. Codes default to
// the slug of the plan name.
func seedPlanCatalog(ctx context.Context, conn *gorm.DB, seeds []config.PlanSeed, genID *snowflake.Node) (int, error) {
	if len(seeds) == 0 {
		return 0, nil
	}
	if genID == nil {
		return 0, errors.New("plan seed requires id generator")
	}

	repo := planrepository.Provide()
	now := time.Now().UTC()
	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, seed := range seeds {
			plan, err := planFromSeed(seed, genID, now)
			if err != nil {
				return err
			}
			if err := repo.Upsert(ctx, tx, plan); err != nil {
				return fmt.Errorf("seed plan %s: %w", plan.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(seeds), nil
}

func planFromSeed(seed config.PlanSeed, genID *snowflake.Node, now time.Time) (*plandomain.Plan, error) {
	name := strings.TrimSpace(seed.Name)
	if name == "" {
		return nil, errors.New("plan seed requires a name")
	}
	code := strings.TrimSpace(seed.Code)
	if code == "" {
		code = slug.Make(name)
	} else {
		code = slug.Make(code)
	}

	monthly := decimal.NewFromFloat(seed.MonthlyPrice).Round(2)
	annual := decimal.NewFromFloat(seed.AnnualPrice).Round(2)
	if monthly.IsNegative() || annual.IsNegative() {
		return nil, fmt.Errorf("plan seed %s has a negative price", code)
	}

	features := datatypes.JSONMap{}
	for k, v := range seed.Features {
		features[k] = v
	}

	return &plandomain.Plan{
		ID:               genID.Generate(),
		Code:             code,
		Name:             name,
		MonthlyPrice:     monthly,
		AnnualPrice:      annual,
		MaxAgents:        seed.MaxAgents,
		MaxLeadsPerMonth: seed.MaxLeadsPerMonth,
		StorageMB:        seed.StorageMB,
		Features:         features,
		Status:           plandomain.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}
