package authz

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// ============================================================================
// SENSITIVITY GATE
// ============================================================================

// CheckSensitivityAccess applies the environmental gate for classified
// resources, independent of the RBAC/ABAC decision. A resource without a
// sensitivity record is public: always allowed. The checks run in order
// (MFA, IP range, time window) and the first failure returns immediately
// with an explanatory reason.
func (e *Engine) CheckSensitivityAccess(ctx context.Context, authCtx *AuthorizationContext, resourceType, resourceID string) (SensitivityResult, error) {
	sens, err := e.stores.Sensitivity.Get(ctx, resourceType, resourceID)
	if err != nil {
		return SensitivityResult{}, fmt.Errorf("load sensitivity %s:%s: %w", resourceType, resourceID, err)
	}
	if sens == nil {
		return SensitivityResult{Allowed: true}, nil
	}

	if sens.RequiresMFA && !mfaVerified(authCtx) {
		return SensitivityResult{Reason: fmt.Sprintf("resource classified %s requires multi-factor authentication", sens.Level)}, nil
	}

	if len(sens.AllowedIPRanges) > 0 && !ipAllowed(authCtx.Environment.IPAddress, sens.AllowedIPRanges) {
		return SensitivityResult{Reason: fmt.Sprintf("access from %s is outside the allowed IP ranges", authCtx.Environment.IPAddress)}, nil
	}

	if len(sens.AllowedTimeWindows) > 0 {
		now := authCtx.Environment.Time()
		if !withinAnyWindow(now, sens.AllowedTimeWindows) {
			return SensitivityResult{Reason: fmt.Sprintf("access at %s %s is outside the allowed time windows",
				strings.ToLower(now.Weekday().String()), now.Format("15:04"))}, nil
		}
	}

	return SensitivityResult{Allowed: true}, nil
}

// mfaVerified reads the mfa_verified context attribute; anything other than
// an affirmative value is treated as unverified.
func mfaVerified(authCtx *AuthorizationContext) bool {
	if authCtx == nil || authCtx.Attributes == nil {
		return false
	}
	switch v := authCtx.Attributes["mfa_verified"].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case int:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}

// ipAllowed checks the caller IP against a list of CIDR ranges or exact
// addresses. Unparseable entries are skipped: a malformed range never
// widens access.
func ipAllowed(ipStr string, ranges []string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, r := range ranges {
		if strings.ContainsRune(r, '/') {
			_, ipnet, err := net.ParseCIDR(r)
			if err != nil {
				continue
			}
			if ipnet.Contains(ip) {
				return true
			}
			continue
		}
		if exact := net.ParseIP(r); exact != nil && exact.Equal(ip) {
			return true
		}
	}
	return false
}

func withinAnyWindow(t time.Time, windows []TimeWindow) bool {
	day := strings.ToLower(t.Weekday().String())
	minute := t.Hour()*60 + t.Minute()
	for _, w := range windows {
		if !windowCoversDay(w, day) {
			continue
		}
		start, okS := parseMinuteOfDay(w.Start)
		end, okE := parseMinuteOfDay(w.End)
		if !okS || !okE {
			continue
		}
		if start <= end {
			if minute >= start && minute <= end {
				return true
			}
		} else {
			// window spans midnight
			if minute >= start || minute <= end {
				return true
			}
		}
	}
	return false
}

func windowCoversDay(w TimeWindow, day string) bool {
	if len(w.Days) == 0 {
		return true
	}
	for _, d := range w.Days {
		if strings.ToLower(d) == day {
			return true
		}
	}
	return false
}

func parseMinuteOfDay(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
