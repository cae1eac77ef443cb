package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/invitations":                 "/v1/invitations",
		"/v1/invitations/01ABC":           "/v1/invitations/:id",
		"/v1/guest/invitations/01ABC/qr":  "/v1/guest/invitations/:id/qr",
		"/v1/scans/status/01ABC":          "/v1/scans/status/:id",
		"/v1/scans/guest-qr":              "/v1/scans/guest-qr",
		"/v1/scan-events?invitation_id=x": "/v1/scan-events",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
