package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/fegate/internal/record"
)

func TestScrubBackURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"relative kept", "/list?page=2", "/list?page=2"},
		{"scheme and host stripped", "https://evil.example/list?page=2", "/list?page=2"},
		{"fragment survives", "https://site.example/a#top", "/a#top"},
		{"script tag removed", `/x"><script>alert(1)</script>`, "/xalert(1)"},
		{"javascript scheme removed", "javascript:alert(1)", "alert(1)"},
		{"quotes dropped", `/ok"'` + "`", "/ok"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ScrubBackURL(tc.in))
		})
	}
}

func TestHasSubmission(t *testing.T) {
	assert.False(t, (&Request{}).HasSubmission())
	assert.False(t, (&Request{Fields: record.Fields{"captcha": "x"}}).HasSubmission())
	assert.True(t, (&Request{Fields: record.Fields{"captcha": "x", "email": ""}}).HasSubmission())
	assert.True(t, (&Request{Fields: record.Fields{"name": "a"}}).HasSubmission())
}
