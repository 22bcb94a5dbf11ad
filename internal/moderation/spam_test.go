package moderation

import "testing"

func checkSpam(t *testing.T, input string, blocked bool, term string) {
	t.Helper()
	f := NewFilterWithTerms(nil)
	result := f.Check(input)
	if result.Blocked != blocked {
		t.Errorf("Check(%q).Blocked = %v, want %v", input, result.Blocked, blocked)
		return
	}
	if blocked {
		if result.Reason != "spam_pattern" {
			t.Errorf("Check(%q).Reason = %q, want spam_pattern", input, result.Reason)
		}
		if result.Term != term {
			t.Errorf("Check(%q).Term = %q, want %q", input, result.Term, term)
		}
	}
}

func TestSpam_URLs(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		blocked bool
	}{
		{"http url", "check http://scam.example/win", true},
		{"https url", "visit https://evil.example", true},
		{"www url", "go to www.freecoins.example now", true},
		{"bare domain with path", "promo.xyz/claim is great", true},
		{"version string", "running v2.0 now", false},
		{"decimal number", "it costs 3.14 birr", false},
		{"plain text", "want to meet at the cafe", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkSpam(t, tt.input, tt.blocked, "url")
		})
	}
}

func TestSpam_PhoneNumbers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		blocked bool
	}{
		{"international", "call +251-911-123456 tonight", true},
		{"dotted", "reach me at 555.123.4567", true},
		{"parenthesized", "my number is (091) 123 4567", true},
		{"short number", "i scored 100 points", false},
		{"year", "born in 1995 in Addis", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkSpam(t, tt.input, tt.blocked, "phone")
		})
	}
}

func TestSpam_MessengerHandles(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		blocked bool
	}{
		{"t.me link", "add me t.me/lily123", true},
		{"telegram handle", "telegram: @lily123", true},
		{"whatsapp handle", "whatsapp @lily123", true},
		{"app name alone", "i stopped using telegram last year", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkSpam(t, tt.input, tt.blocked, "messenger_handle")
		})
	}
}

func TestSpam_CharFlood(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		blocked bool
	}{
		{"six repeats", "okaaaaaay", true},
		{"five repeats pass", "okaaaaay", false},
		{"normal word", "selam", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkSpam(t, tt.input, tt.blocked, "char_flood")
		})
	}
}

func TestSpam_WordFlood(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		blocked bool
	}{
		{"four repeats", "buy buy buy buy", true},
		{"case insensitive repeats", "Hi hi HI hi", true},
		{"three repeats pass", "no no no", false},
		{"non consecutive", "hey you hey you hey you hey", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkSpam(t, tt.input, tt.blocked, "word_flood")
		})
	}
}
