package authz

import (
	"strings"
	"testing"
)

func TestMaskFull(t *testing.T) {
	rule := &MaskingRule{ID: "m1", Type: MaskFull, Enabled: true}
	if got := Mask("secret", rule, nil); got != "******" {
		t.Fatalf("full mask = %q", got)
	}
	rule.Config = map[string]any{"mask_char": "#"}
	if got := Mask("abc", rule, nil); got != "###" {
		t.Fatalf("full mask with custom char = %q", got)
	}
}

func TestMaskPartial(t *testing.T) {
	rule := &MaskingRule{ID: "m2", Type: MaskPartial, Enabled: true,
		Config: map[string]any{"show_first": 2, "show_last": 2}}
	if got := Mask("1234567890", rule, nil); got != "12******90" {
		t.Fatalf("partial mask = %q", got)
	}
	// too short for both windows: fully masked, length preserved
	if got := Mask("ab", rule, nil); got != "**" {
		t.Fatalf("short partial mask = %q", got)
	}
}

func TestMaskEmail(t *testing.T) {
	rule := &MaskingRule{ID: "m3", Type: MaskEmail, Enabled: true}
	got := Mask("jane.doe@example.com", rule, nil).(string)
	if !strings.HasPrefix(got, "j") || !strings.Contains(got, "@") || !strings.HasSuffix(got, ".com") {
		t.Fatalf("email mask = %q", got)
	}
	if strings.Contains(got, "ane.doe") || strings.Contains(got, "xample") {
		t.Fatalf("email mask leaks content: %q", got)
	}
}

func TestMaskPhoneAndCreditCard(t *testing.T) {
	phone := &MaskingRule{ID: "m4", Type: MaskPhone, Enabled: true}
	if got := Mask("555-123-4567", phone, nil); got != "***-***-4567" {
		t.Fatalf("phone mask = %q", got)
	}
	card := &MaskingRule{ID: "m5", Type: MaskCreditCard, Enabled: true}
	if got := Mask("4111 1111 1111 1234", card, nil); got != "**** **** **** 1234" {
		t.Fatalf("card mask = %q", got)
	}
	// fewer digits than the visible suffix: mask everything
	if got := Mask("123", card, nil); got != "***" {
		t.Fatalf("short card mask = %q", got)
	}
}

func TestMaskSSN(t *testing.T) {
	rule := &MaskingRule{ID: "m6", Type: MaskSSN, Enabled: true}
	if got := Mask("123-45-6789", rule, nil); got != "XXX-XX-6789" {
		t.Fatalf("ssn mask = %q", got)
	}
	if got := Mask("123456789", rule, nil); got != "XXX-XX-6789" {
		t.Fatalf("bare ssn mask = %q", got)
	}
}

func TestMaskHashDeterministic(t *testing.T) {
	rule := &MaskingRule{ID: "m7", Type: MaskHash, Enabled: true}
	a := Mask("alice@example.com", rule, nil)
	b := Mask("alice@example.com", rule, nil)
	c := Mask("bob@example.com", rule, nil)
	if a != b {
		t.Fatalf("hash mask must be stable: %v != %v", a, b)
	}
	if a == c {
		t.Fatalf("hash mask must distinguish values")
	}
	if len(a.(string)) != 64 {
		t.Fatalf("sha256 hex digest length = %d", len(a.(string)))
	}
	rule.Config = map[string]any{"algorithm": "sha512"}
	if got := Mask("alice@example.com", rule, nil).(string); len(got) != 128 {
		t.Fatalf("sha512 hex digest length = %d", len(got))
	}
}

func TestMaskNullAndCustom(t *testing.T) {
	if got := Mask("value", &MaskingRule{ID: "m8", Type: MaskNull, Enabled: true}, nil); got != nil {
		t.Fatalf("null mask = %v", got)
	}
	if got := Mask("value", &MaskingRule{ID: "m9", Type: MaskCustom, Enabled: true}, nil); got != "value" {
		t.Fatalf("custom mask must pass through, got %v", got)
	}
}

func TestMaskUnknownTypeNeverLeaks(t *testing.T) {
	rule := &MaskingRule{ID: "m10", Type: MaskingType("scramble"), Enabled: true}
	if got := Mask("topsecret", rule, nil); got != "*********" {
		t.Fatalf("unknown mask type must fully mask, got %q", got)
	}
}

func TestMaskBypass(t *testing.T) {
	rule := &MaskingRule{
		ID: "m11", Type: MaskFull, Enabled: true,
		BypassUsers: []string{"auditor-1"},
		BypassRoles: []string{"compliance"},
	}
	byUser := &AuthorizationContext{UserID: "auditor-1"}
	if got := Mask("raw", rule, byUser); got != "raw" {
		t.Fatalf("bypass user must see the raw value, got %v", got)
	}
	byRole := &AuthorizationContext{UserID: "u2", Roles: []string{"compliance"}}
	if got := Mask("raw", rule, byRole); got != "raw" {
		t.Fatalf("bypass role must see the raw value, got %v", got)
	}
	other := &AuthorizationContext{UserID: "u3"}
	if got := Mask("raw", rule, other); got != "***" {
		t.Fatalf("non-bypass subject must be masked, got %v", got)
	}
}

func TestMaskDisabledRuleAndNilValue(t *testing.T) {
	disabled := &MaskingRule{ID: "m12", Type: MaskFull, Enabled: false}
	if got := Mask("raw", disabled, nil); got != "raw" {
		t.Fatalf("disabled rule must pass through, got %v", got)
	}
	enabled := &MaskingRule{ID: "m13", Type: MaskFull, Enabled: true}
	if got := Mask(nil, enabled, nil); got != nil {
		t.Fatalf("nil value must stay nil, got %v", got)
	}
}
