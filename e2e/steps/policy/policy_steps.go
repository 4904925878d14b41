package policy

import (
	"context"
	"fmt"
	"net/url"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	AdminPOST(path string, body interface{}) error
	AdminGET(path string) error
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	Expand(s string) string
	RunIP(n int) string
}

// RegisterSteps registers policy evaluation and abuse administration steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &policySteps{tc: tc}

	// Evaluation
	ctx.Step(`^I evaluate "([^"]*)" for email "([^"]*)" from IP "([^"]*)"$`, steps.evaluateEmailFromIP)
	ctx.Step(`^I evaluate "([^"]*)" for email "([^"]*)" from a new IP$`, steps.evaluateEmailFromNewIP)
	ctx.Step(`^I evaluate "([^"]*)" for user "([^"]*)"$`, steps.evaluateUser)
	ctx.Step(`^email "([^"]*)" has attempted "([^"]*)" from (\d+) different IPs$`, steps.attemptedFromDifferentIPs)

	// Abuse administration
	ctx.Step(`^I reset abuse tracking for email "([^"]*)"$`, steps.resetAbuseForEmail)
	ctx.Step(`^I check abuse status for email "([^"]*)"$`, steps.checkAbuseStatus)
}

type policySteps struct {
	tc TestContext
}

func (s *policySteps) evaluate(body map[string]interface{}) error {
	return s.tc.POST("/v1/policy/evaluate", body)
}

func (s *policySteps) evaluateEmailFromIP(ctx context.Context, action, email, ip string) error {
	return s.evaluate(map[string]interface{}{
		"action": action,
		"email":  s.tc.Expand(email),
		"ip":     ip,
	})
}

func (s *policySteps) evaluateEmailFromNewIP(ctx context.Context, action, email string) error {
	return s.evaluateEmailFromIP(ctx, action, email, s.tc.RunIP(0xfff))
}

func (s *policySteps) evaluateUser(ctx context.Context, action, userID string) error {
	return s.evaluate(map[string]interface{}{
		"action":  action,
		"user_id": s.tc.Expand(userID),
	})
}

// attemptedFromDifferentIPs records n allowed attempts for email, each from a
// distinct address of the scenario's prefix.
func (s *policySteps) attemptedFromDifferentIPs(ctx context.Context, email, action string, n int) error {
	for i := 1; i <= n; i++ {
		if err := s.evaluateEmailFromIP(ctx, action, email, s.tc.RunIP(i)); err != nil {
			return err
		}
		if status := s.tc.GetLastResponseStatus(); status != 200 {
			return fmt.Errorf("attempt %d from a new IP was refused with %d: %s", i, status, s.tc.GetLastResponseBody())
		}
	}
	return nil
}

func (s *policySteps) resetAbuseForEmail(ctx context.Context, email string) error {
	return s.tc.AdminPOST("/admin/abuse/reset", map[string]interface{}{
		"email": s.tc.Expand(email),
	})
}

func (s *policySteps) checkAbuseStatus(ctx context.Context, email string) error {
	return s.tc.AdminGET("/admin/abuse/status?email=" + url.QueryEscape(s.tc.Expand(email)))
}
