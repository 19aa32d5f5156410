package secrets

import (
	"reflect"
	"testing"
)

func TestIsSensitiveKey(t *testing.T) {
	cases := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"NewPassword", true},
		{"user_api_key", true},
		{"Authorization", true},
		{"session_token", true},
		{"apikey", true},
		{"username", false},
		{"ticket_id", false},
		{"description", false},
	}
	for _, tc := range cases {
		if got := IsSensitiveKey(tc.key); got != tc.want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestRedactNested(t *testing.T) {
	input := map[string]any{
		"username": "jdoe",
		"password": "S3cret!",
		"profile": map[string]any{
			"email":   "jdoe@example.com",
			"api_key": "abc123",
		},
		"accounts": []any{
			map[string]any{"name": "a", "token": "t1"},
			"plain-string",
		},
	}

	out := Redact(input)

	if out["password"] != Redacted {
		t.Errorf("password not redacted: %v", out["password"])
	}
	if out["username"] != "jdoe" {
		t.Errorf("username altered: %v", out["username"])
	}
	profile := out["profile"].(map[string]any)
	if profile["api_key"] != Redacted {
		t.Errorf("nested api_key not redacted: %v", profile["api_key"])
	}
	if profile["email"] != "jdoe@example.com" {
		t.Errorf("nested email altered: %v", profile["email"])
	}
	accounts := out["accounts"].([]any)
	if accounts[0].(map[string]any)["token"] != Redacted {
		t.Errorf("token in array not redacted")
	}
	if accounts[1] != "plain-string" {
		t.Errorf("scalar array element altered: %v", accounts[1])
	}

	// The input must be untouched.
	if input["password"] != "S3cret!" {
		t.Fatal("Redact mutated its input")
	}
}

func TestExtractMergeRoundTrip(t *testing.T) {
	original := map[string]any{
		"username":     "jdoe",
		"new_password": "Hunter2!",
		"options": map[string]any{
			"notify": true,
			"auth":   "bearer xyz",
			"deep": map[string]any{
				"secret": "s",
				"keep":   float64(42),
			},
		},
	}

	clean, extracted := Extract(original)

	if clean["new_password"] != Redacted {
		t.Errorf("clean tree leaks password: %v", clean["new_password"])
	}
	opts := clean["options"].(map[string]any)
	if opts["auth"] != Redacted {
		t.Errorf("clean tree leaks auth: %v", opts["auth"])
	}
	if opts["notify"] != true {
		t.Errorf("non-sensitive field lost: %v", opts["notify"])
	}
	if extracted["new_password"] != "Hunter2!" {
		t.Errorf("extracted tree missing password: %v", extracted)
	}

	Merge(clean, extracted)
	if !reflect.DeepEqual(clean, original) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", clean, original)
	}
}

func TestExtractMergeRoundTripInsideArrays(t *testing.T) {
	original := map[string]any{
		"note": "bulk reset",
		"accounts": []any{
			map[string]any{"username": "jdoe", "password": "S3cret!"},
			"placeholder",
			map[string]any{"username": "asmith"},
			map[string]any{"nested": map[string]any{"api_key": "k-9"}},
		},
	}

	clean, extracted := Extract(original)

	accounts := clean["accounts"].([]any)
	if got := accounts[0].(map[string]any)["password"]; got != Redacted {
		t.Errorf("array-nested password leaked into clean tree: %v", got)
	}
	if accounts[1] != "placeholder" {
		t.Errorf("scalar element altered: %v", accounts[1])
	}
	if got := accounts[3].(map[string]any)["nested"].(map[string]any)["api_key"]; got != Redacted {
		t.Errorf("deep array-nested api_key leaked: %v", got)
	}

	secretAccounts, ok := extracted["accounts"].([]any)
	if !ok {
		t.Fatalf("no array extraction recorded: %#v", extracted)
	}
	if got := secretAccounts[0].(map[string]any)["password"]; got != "S3cret!" {
		t.Errorf("extracted tree missing array-nested password: %v", got)
	}
	if secretAccounts[1] != nil || secretAccounts[2] != nil {
		t.Errorf("secret-free positions must stay nil: %#v", secretAccounts)
	}

	Merge(clean, extracted)
	if !reflect.DeepEqual(clean, original) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", clean, original)
	}
}

func TestExtractionMatchesDetection(t *testing.T) {
	// Whenever detection fires, extraction must capture something;
	// otherwise a record looks partitioned while no envelope exists.
	trees := []map[string]any{
		{"password": "x"},
		{"outer": map[string]any{"token": "x"}},
		{"accounts": []any{map[string]any{"password": "x"}}},
		{"accounts": []any{map[string]any{"deep": map[string]any{"auth": "x"}}}},
		{"plain": "x", "list": []any{"a", float64(1)}},
	}
	for _, tree := range trees {
		_, extracted := Extract(tree)
		if HasSensitive(tree) != (len(extracted) > 0) {
			t.Errorf("detection and extraction disagree on %#v: HasSensitive=%v extracted=%#v",
				tree, HasSensitive(tree), extracted)
		}
	}
}

func TestExtractNoSecrets(t *testing.T) {
	clean, extracted := Extract(map[string]any{"device_name": "sw-01"})
	if len(extracted) != 0 {
		t.Errorf("unexpected extraction: %v", extracted)
	}
	if clean["device_name"] != "sw-01" {
		t.Errorf("clean tree altered: %v", clean)
	}
}

func TestHasSensitive(t *testing.T) {
	if HasSensitive(map[string]any{"a": map[string]any{"b": []any{map[string]any{"token": "x"}}}}) != true {
		t.Error("deep token not detected")
	}
	if HasSensitive(map[string]any{"a": "b", "c": []any{"d"}}) {
		t.Error("false positive on plain tree")
	}
}
