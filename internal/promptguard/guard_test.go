package promptguard

import (
	"strings"
	"testing"
)

func TestDefault_EmbeddedDictionaryCompiles(t *testing.T) {
	g := Default()
	if g == nil || len(g.trademarks) == 0 || len(g.persons) == 0 || len(g.markers) == 0 {
		t.Fatalf("embedded dictionary not loaded: %+v", g)
	}
}

func TestSanitize_TrademarkWholeWordCaseInsensitive(t *testing.T) {
	res := Sanitize("A runner in NIKE shoes drinking coca-cola")
	if !res.WasModified {
		t.Fatalf("expected modification")
	}
	low := strings.ToLower(res.SanitizedPrompt)
	if strings.Contains(low, "nike") || strings.Contains(low, "coca-cola") {
		t.Fatalf("trademarks left in prompt: %q", res.SanitizedPrompt)
	}
	if len(res.Replacements) != 2 {
		t.Fatalf("expected 2 replacements, got %+v", res.Replacements)
	}
	for _, r := range res.Replacements {
		if r.Reason != ReasonTrademark {
			t.Fatalf("unexpected reason %q", r.Reason)
		}
	}
	if res.Replacements[0].Original != "coca-cola" && res.Replacements[1].Original != "coca-cola" {
		t.Fatalf("original text not preserved as written: %+v", res.Replacements)
	}
}

func TestSanitize_WholeWordOnly(t *testing.T) {
	res := Sanitize("pineapple smoothie on a sunny terrace")
	if res.WasModified || len(res.Replacements) != 0 {
		t.Fatalf("substring of a word must not match: %+v", res)
	}
}

func TestSanitize_CountsEveryOccurrence(t *testing.T) {
	res := Sanitize("Lego castle next to a lego dragon")
	if len(res.Replacements) != 1 || res.Replacements[0].Count != 2 {
		t.Fatalf("expected one entry with count 2, got %+v", res.Replacements)
	}
	if strings.Contains(strings.ToLower(res.SanitizedPrompt), "lego") {
		t.Fatalf("occurrence left behind: %q", res.SanitizedPrompt)
	}
}

func TestSanitize_PersonReferences(t *testing.T) {
	res := Sanitize("Put the woman from the attached photo next to Taylor Swift")
	if !res.WasModified {
		t.Fatalf("expected modification")
	}
	if strings.Contains(strings.ToLower(res.SanitizedPrompt), "taylor swift") {
		t.Fatalf("name left in prompt: %q", res.SanitizedPrompt)
	}
	persons := 0
	for _, r := range res.Replacements {
		if r.Reason == ReasonPersonReference {
			persons++
			if r.Replacement != "a person" {
				t.Fatalf("unexpected replacement phrase %q", r.Replacement)
			}
		}
	}
	if persons != 2 {
		t.Fatalf("expected 2 person replacements, got %+v", res.Replacements)
	}
	if len(res.Warnings) == 0 {
		t.Fatalf("expected a warning")
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	prompts := []string{
		"Elon Musk unboxing an iPhone at Starbucks",
		"the man in the uploaded photo wearing Gucci and a Rolex",
		"Lego Barbie riding a Ferrari past McDonald's",
		"Tommy Hilfiger jacket on a beach",
	}
	for _, p := range prompts {
		once := Sanitize(p)
		twice := Sanitize(once.SanitizedPrompt)
		if twice.WasModified || twice.SanitizedPrompt != once.SanitizedPrompt {
			t.Fatalf("not idempotent for %q: %q -> %q", p, once.SanitizedPrompt, twice.SanitizedPrompt)
		}
		if len(twice.Replacements) != 0 {
			t.Fatalf("re-replacement recorded for %q: %+v", p, twice.Replacements)
		}
	}
}

func TestSanitize_TermInBothCategoriesRecordsTwoEntries(t *testing.T) {
	res := Sanitize("a denim jacket by Tommy Hilfiger")
	if len(res.Replacements) != 2 {
		t.Fatalf("expected two entries, got %+v", res.Replacements)
	}
	if res.Replacements[0].Reason != ReasonTrademark || res.Replacements[1].Reason != ReasonPersonReference {
		t.Fatalf("expected trademark then person_reference, got %+v", res.Replacements)
	}
	if res.Replacements[0].Original != res.Replacements[1].Original {
		t.Fatalf("both entries should name the same original: %+v", res.Replacements)
	}
}

func TestSanitize_EmptyPrompt(t *testing.T) {
	res := Sanitize("   ")
	if res.WasModified || len(res.Warnings) != 1 {
		t.Fatalf("unexpected result for empty prompt: %+v", res)
	}
}

func TestDetectCelebrityViolation(t *testing.T) {
	v := DetectCelebrityViolation("a video with Elon Musk")
	if v == nil {
		t.Fatalf("expected violation")
	}
	if v.Code != ViolationCode || len(v.MatchedNames) != 1 || v.MatchedNames[0] != "Elon Musk" {
		t.Fatalf("unexpected violation: %+v", v)
	}
	if len(v.Suggestions) == 0 || v.Error() == "" {
		t.Fatalf("violation needs suggestions and a message: %+v", v)
	}

	if v := DetectCelebrityViolation("a video with a tech entrepreneur"); v != nil {
		t.Fatalf("expected nil, got %+v", v)
	}
}

func TestDetectCelebrityViolation_DedupesAndIgnoresBrandNames(t *testing.T) {
	v := DetectCelebrityViolation("elon musk and ELON  MUSK meet Lionel Messi")
	if v == nil || len(v.MatchedNames) != 2 {
		t.Fatalf("expected two distinct names, got %+v", v)
	}
	if v := DetectCelebrityViolation("a Calvin Klein perfume bottle"); v != nil {
		t.Fatalf("brand-only use should not trip the gate: %+v", v)
	}
	if v := DetectCelebrityViolation("the person from the attached photo smiling"); v != nil {
		t.Fatalf("generic phrasing is sanitized, not gated: %+v", v)
	}
}

func TestIsContentPolicyViolation(t *testing.T) {
	cases := map[string]bool{
		"Your request was rejected by our Content Policy":    true,
		"image generation blocked: contains a public figure": true,
		`{"error":{"code":"content_policy_violation"}}`:      true,
		"503 Service Unavailable":                            false,
		"rate limit exceeded, retry after 30s":               false,
		"":                                                   false,
	}
	for in, want := range cases {
		if got := IsContentPolicyViolation(in); got != want {
			t.Fatalf("IsContentPolicyViolation(%q)=%v want %v", in, got, want)
		}
	}
}

func TestNew_RejectsSelfMatchingReplacement(t *testing.T) {
	_, err := New(Dictionary{
		PersonReplacement: "a person",
		Trademarks:        []TrademarkEntry{{Term: "Acme", Generic: "an Acme-like brand"}},
	})
	if err == nil {
		t.Fatalf("expected error for generic containing its own term")
	}

	_, err = New(Dictionary{PersonReplacement: "someone like Bob Doe",
		PersonPatterns: []PatternEntry{{Kind: KindName, Pattern: `\bbob\s+doe\b`}}})
	if err == nil {
		t.Fatalf("expected error for replacement matching a person pattern")
	}
}

func TestNew_ValidatesEntries(t *testing.T) {
	bad := []Dictionary{
		{},
		{PersonReplacement: "x", Trademarks: []TrademarkEntry{{Term: "", Generic: "g"}}},
		{PersonReplacement: "x", Trademarks: []TrademarkEntry{{Term: "-Acme", Generic: "g"}}},
		{PersonReplacement: "x", PersonPatterns: []PatternEntry{{Kind: "other", Pattern: "a"}}},
		{PersonReplacement: "x", PersonPatterns: []PatternEntry{{Kind: KindName, Pattern: "("}}},
	}
	for i, d := range bad {
		if _, err := New(d); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestParseDictionary(t *testing.T) {
	d, err := ParseDictionary([]byte("person_replacement: someone\ntrademarks:\n  - term: Acme\n    generic: a tool maker\n"))
	if err != nil {
		t.Fatalf("ParseDictionary: %v", err)
	}
	g, err := New(d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := g.Sanitize("Acme anvil").SanitizedPrompt; got != "a tool maker anvil" {
		t.Fatalf("unexpected sanitize output %q", got)
	}
	if _, err := ParseDictionary([]byte("trademarks: [")); err == nil {
		t.Fatalf("expected YAML error")
	}
}
