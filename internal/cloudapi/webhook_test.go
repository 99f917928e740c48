package cloudapi

import "testing"

func TestVerifyWebhookAuth(t *testing.T) {
	cases := []struct {
		name   string
		header string
		secret string
		want   bool
	}{
		{"bare token", "s3cret", "s3cret", true},
		{"bearer prefix", "Bearer s3cret", "s3cret", true},
		{"wrong token", "nope", "s3cret", false},
		{"empty header", "", "s3cret", false},
		{"empty secret never matches", "", "", false},
		{"prefix only", "Bearer ", "s3cret", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VerifyWebhookAuth(tc.header, tc.secret); got != tc.want {
				t.Fatalf("VerifyWebhookAuth(%q, %q) = %v, want %v",
					tc.header, tc.secret, got, tc.want)
			}
		})
	}
}
