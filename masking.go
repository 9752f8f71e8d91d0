package authz

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"unicode"
)

// ============================================================================
// MASKING TRANSFORM LIBRARY
// ============================================================================

// Mask transforms a scalar value according to the rule. Bypass membership is
// checked first: an exempt subject receives the value unchanged. Nil values
// pass through. The transforms are pure; only their configuration comes from
// the rule.
//
// The "custom" type is a deliberate pass-through: user-supplied transform
// code is not executed by this engine.
func Mask(value any, rule *MaskingRule, authCtx *AuthorizationContext) any {
	if rule == nil || !rule.Enabled {
		return value
	}
	if authCtx != nil && maskingBypassed(rule, authCtx) {
		return value
	}
	if value == nil {
		return nil
	}

	s := stringify(value)
	switch rule.Type {
	case MaskFull:
		return maskFull(s, configChar(rule.Config, "mask_char", "*"))
	case MaskPartial:
		return maskPartial(s,
			configInt(rule.Config, "show_first", 0),
			configInt(rule.Config, "show_last", 0),
			configChar(rule.Config, "mask_char", "*"))
	case MaskEmail:
		return maskEmail(s)
	case MaskPhone:
		return maskDigits(s, configInt(rule.Config, "show_last", 4), "*")
	case MaskCreditCard:
		return maskDigits(s, configInt(rule.Config, "show_last", 4), "*")
	case MaskSSN:
		return maskSSN(s, configInt(rule.Config, "show_last", 4))
	case MaskHash:
		return hashValue(s, stringify(rule.Config["algorithm"]))
	case MaskNull:
		return nil
	case MaskCustom:
		return value
	}
	// unknown type: never leak the raw value
	return maskFull(s, "*")
}

func maskingBypassed(rule *MaskingRule, authCtx *AuthorizationContext) bool {
	for _, u := range rule.BypassUsers {
		if u == authCtx.UserID {
			return true
		}
	}
	for _, br := range rule.BypassRoles {
		if authCtx.HasRole(br) {
			return true
		}
	}
	return false
}

func maskFull(s, maskChar string) string {
	return strings.Repeat(maskChar, len([]rune(s)))
}

// maskPartial keeps showFirst leading and showLast trailing characters. A
// value too short for both windows is masked entirely, preserving length.
func maskPartial(s string, showFirst, showLast int, maskChar string) string {
	runes := []rune(s)
	if showFirst < 0 {
		showFirst = 0
	}
	if showLast < 0 {
		showLast = 0
	}
	if len(runes) <= showFirst+showLast {
		return strings.Repeat(maskChar, len(runes))
	}
	middle := strings.Repeat(maskChar, len(runes)-showFirst-showLast)
	return string(runes[:showFirst]) + middle + string(runes[len(runes)-showLast:])
}

// maskEmail masks the local part and the domain name each with
// partial(showFirst=1), preserving '@' and the top-level domain suffix.
func maskEmail(s string) string {
	at := strings.LastIndexByte(s, '@')
	if at == -1 {
		return maskPartial(s, 1, 0, "*")
	}
	local := maskPartial(s[:at], 1, 0, "*")
	domain := s[at+1:]
	if dot := strings.LastIndexByte(domain, '.'); dot != -1 {
		return local + "@" + maskPartial(domain[:dot], 1, 0, "*") + domain[dot:]
	}
	return local + "@" + maskPartial(domain, 1, 0, "*")
}

// maskDigits masks all but the last showLast digits, leaving formatting
// characters (dashes, spaces, parentheses) in place.
func maskDigits(s string, showLast int, maskChar string) string {
	digitCount := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			digitCount++
		}
	}
	keepFrom := digitCount - showLast
	if keepFrom <= 0 {
		// too few digits to keep a visible suffix safely
		keepFrom = digitCount
	}
	out := make([]rune, 0, len(s))
	seen := 0
	for _, r := range s {
		if !unicode.IsDigit(r) {
			out = append(out, r)
			continue
		}
		if seen < keepFrom {
			out = append(out, []rune(maskChar)[0])
		} else {
			out = append(out, r)
		}
		seen++
	}
	return string(out)
}

// maskSSN masks all but the last digits and normalizes a nine-digit result
// to the XXX-XX-dddd form.
func maskSSN(s string, showLast int) string {
	digits := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) == 9 && showLast == 4 {
		return "XXX-XX-" + string(digits[5:])
	}
	return maskDigits(s, showLast, "X")
}

// hashValue produces a deterministic hex digest of the string form, stable
// across calls for audit correlation. sha256 is the default algorithm.
func hashValue(s, algorithm string) string {
	switch algorithm {
	case "sha512":
		sum := sha512.Sum512([]byte(s))
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	}
}

// DefaultFullMask is applied when a column resolves to level masked but no
// masking rule is bound.
func DefaultFullMask(value any) any {
	if value == nil {
		return nil
	}
	return maskFull(stringify(value), "*")
}

func configInt(cfg map[string]any, key string, def int) int {
	if cfg == nil {
		return def
	}
	v, ok := cfg[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func configChar(cfg map[string]any, key, def string) string {
	if cfg == nil {
		return def
	}
	if s, ok := cfg[key].(string); ok && s != "" {
		return string([]rune(s)[0])
	}
	return def
}
