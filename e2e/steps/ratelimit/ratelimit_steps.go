package ratelimit

import (
	"context"
	"fmt"
	"net/url"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	AdminDELETE(path string) error
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	Expand(s string) string
}

// RegisterSteps registers rate-limiting step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^user "([^"]*)" has been allowed "([^"]*)" (\d+) times$`, steps.allowedNTimes)
	ctx.Step(`^the next "([^"]*)" attempt for user "([^"]*)" should return (\d+)$`, steps.nextAttemptShouldReturn)
	ctx.Step(`^I reset the "([^"]*)" rate limit for "([^"]*)"$`, steps.resetRateLimit)
}

type ratelimitSteps struct {
	tc TestContext
}

func (s *ratelimitSteps) attempt(action, userID string) error {
	return s.tc.POST("/v1/policy/evaluate", map[string]interface{}{
		"action":  action,
		"user_id": s.tc.Expand(userID),
	})
}

func (s *ratelimitSteps) allowedNTimes(ctx context.Context, userID, action string, n int) error {
	for i := 1; i <= n; i++ {
		if err := s.attempt(action, userID); err != nil {
			return err
		}
		if status := s.tc.GetLastResponseStatus(); status != 200 {
			return fmt.Errorf("attempt %d returned %d: %s", i, status, s.tc.GetLastResponseBody())
		}
	}
	return nil
}

func (s *ratelimitSteps) nextAttemptShouldReturn(ctx context.Context, action, userID string, status int) error {
	if err := s.attempt(action, userID); err != nil {
		return err
	}
	if got := s.tc.GetLastResponseStatus(); got != status {
		return fmt.Errorf("expected %d, got %d: %s", status, got, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *ratelimitSteps) resetRateLimit(ctx context.Context, category, identifier string) error {
	return s.tc.AdminDELETE("/admin/rate-limit/" + url.PathEscape(category) + "/" + url.PathEscape(s.tc.Expand(identifier)))
}
