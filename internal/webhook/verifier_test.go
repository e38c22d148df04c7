package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"action":"created"}`)
	valid := Sign(body, "s3cret")

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		want      bool
	}{
		{"valid", body, valid, "s3cret", true},
		{"wrong secret", body, valid, "other", false},
		{"tampered body", []byte(`{"action":"created" }`), valid, "s3cret", false},
		{"missing secret", body, valid, "", false},
		{"missing signature", body, "", "s3cret", false},
		{"sha1 prefix", body, "sha1=" + valid[len("sha256="):], "s3cret", false},
		{"not hex", body, "sha256=zz", "s3cret", false},
		{"truncated digest", body, valid[:len(valid)-2], "s3cret", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(tt.body, tt.signature, tt.secret))
		})
	}
}
