package e2e

import (
	"github.com/cucumber/godog"

	"authgate/e2e/steps/common"
	"authgate/e2e/steps/policy"
	"authgate/e2e/steps/ratelimit"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (health, generic assertions)
	common.RegisterSteps(ctx, tc)

	// Register policy evaluation and abuse steps
	policy.RegisterSteps(ctx, tc)

	// Register rate-limit steps
	ratelimit.RegisterSteps(ctx, tc)
}
