// Package guardrail: the PIIEvaluator family (§4.5), grounded on the
// reference codebase's pii_detector.go regex-plus-validator idiom (SSN and
// credit-card detectors there follow the same "regex finds a candidate,
// a checksum/exclusion function confirms it" two-step used here).
package guardrail

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/cerberusgw/gateway/internal/jsonwalk"
	"github.com/cerberusgw/gateway/internal/policy"
)

// piiDetector pairs a candidate-finding regex with an optional extra
// validator (Luhn checksum, SSN placeholder exclusion) and the default
// redaction token for that kind.
type piiDetector struct {
	pattern      *regexp.Regexp
	validate     func(raw string) bool
	defaultToken string
}

var (
	ssnPattern         = regexp.MustCompile(`\b(\d{3})[-\s]?(\d{2})[-\s]?(\d{4})\b`)
	creditCardPattern  = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	emailPattern       = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)*\.[A-Za-z]{2,}`)
	phonePattern       = regexp.MustCompile(`\+?\(?\d{1,4}\)?[-.\s]?\(?\d{2,4}\)?(?:[-.\s]?\d{2,4}){1,4}`)
	ipv4Pattern        = regexp.MustCompile(`\b(?:25[0-5]|2[0-4]\d|1?\d?\d)(?:\.(?:25[0-5]|2[0-4]\d|1?\d?\d)){3}\b`)
)

var piiDetectors = map[policy.GuardrailType]piiDetector{
	policy.GuardrailPIISSN:        {pattern: ssnPattern, validate: validSSN, defaultToken: "[REDACTED:SSN]"},
	policy.GuardrailPIICreditCard: {pattern: creditCardPattern, validate: validLuhn, defaultToken: "[REDACTED:CREDIT_CARD]"},
	policy.GuardrailPIIEmail:      {pattern: emailPattern, validate: nil, defaultToken: "[REDACTED:EMAIL]"},
	policy.GuardrailPIIPhone:      {pattern: phonePattern, validate: validPhone, defaultToken: "[REDACTED:PHONE]"},
	policy.GuardrailPIIIPAddress:  {pattern: ipv4Pattern, validate: nil, defaultToken: "[REDACTED:IP_ADDRESS]"},
}

// PIIEvaluator is one instance of the family, parameterized by which kind
// of PII it scans for.
type PIIEvaluator struct {
	guardrailType policy.GuardrailType
	detector      piiDetector
}

func NewPIIEvaluator(t policy.GuardrailType) *PIIEvaluator {
	return &PIIEvaluator{guardrailType: t, detector: piiDetectors[t]}
}

func (e *PIIEvaluator) Type() policy.GuardrailType { return e.guardrailType }

// SupportsDirection is always true: §4.5's direction restriction is a
// per-policy config value (default "both"), not a structural property of
// the evaluator, so it is enforced inside Evaluate.
func (e *PIIEvaluator) SupportsDirection(d Direction) bool { return true }

func (e *PIIEvaluator) Evaluate(ctx context.Context, direction Direction, body interface{}, rc Context, action policy.Action, cfg map[string]interface{}) (Result, error) {
	wantDir := stringConfig(cfg, "direction", "both")
	if wantDir != "both" && wantDir != string(direction) {
		return Result{Action: ActionAllow}, nil
	}
	if body == nil {
		return Result{Action: ActionAllow}, nil
	}

	token := stringConfig(cfg, "redaction_token", e.detector.defaultToken)

	var found []string
	blocked := false

	rewritten := jsonwalk.Walk(body, func(path, value string) (string, bool) {
		matches := e.detector.pattern.FindAllString(value, -1)
		if len(matches) == 0 {
			return value, false
		}

		newValue := value
		changedAny := false
		for _, m := range matches {
			if e.detector.validate != nil && !e.detector.validate(m) {
				continue
			}
			found = append(found, m)
			if action == policy.ActionBlock {
				blocked = true
				continue
			}
			if action == policy.ActionRedact {
				newValue = strings.Replace(newValue, m, token, 1)
				changedAny = true
			}
		}
		return newValue, changedAny
	}, nil)

	if blocked {
		return Result{
			Action:    ActionBlock,
			Triggered: true,
			Details:   map[string]interface{}{"guardrail_type": string(e.guardrailType), "match_count": len(found)},
		}, nil
	}

	if len(found) == 0 {
		return Result{Action: ActionAllow, Triggered: false}, nil
	}

	if action == policy.ActionRedact {
		return Result{
			Action:    ActionRedact,
			Triggered: true,
			NewBody:   rewritten,
			Details:   map[string]interface{}{"guardrail_type": string(e.guardrailType), "match_count": len(found)},
		}, nil
	}

	// log_only or any other configured action: record the hit, pass the
	// body through unchanged.
	return Result{
		Action:    ActionLogOnly,
		Triggered: true,
		Details:   map[string]interface{}{"guardrail_type": string(e.guardrailType), "match_count": len(found)},
	}, nil
}

// validSSN implements the exact detector semantics of §4.5: area 001-899
// except 666, group 01-99, serial 0001-9999, and rejects the canonical
// placeholder 000-00-0000 (already excluded by the area-code range, kept
// explicit for readability).
func validSSN(raw string) bool {
	digits := onlyDigits(raw)
	if len(digits) != 9 {
		return false
	}
	area, _ := strconv.Atoi(digits[0:3])
	group, _ := strconv.Atoi(digits[3:5])
	serial, _ := strconv.Atoi(digits[5:9])

	if area == 0 || area == 666 || area > 899 {
		return false
	}
	if group == 0 {
		return false
	}
	if serial == 0 {
		return false
	}
	if digits == "000000000" {
		return false
	}
	return true
}

// validLuhn implements the Luhn checksum over the digit-only form of a
// 13-19 digit candidate.
func validLuhn(raw string) bool {
	digits := onlyDigits(raw)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

// validPhone requires at least 10 and at most 15 digits total, matching
// §4.5's "must contain ≥10 digits total, ≤15".
func validPhone(raw string) bool {
	n := len(onlyDigits(raw))
	return n >= 10 && n <= 15
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
