package model

import "testing"

func TestStableID(t *testing.T) {
	tests := []struct {
		name string
		msg  RawMessage
		want string
	}{
		{
			name: "protocol id wins",
			msg: RawMessage{
				SourceName:      "work-mail",
				SourceMessageID: "42",
				StableMessageID: "<abc@mail.example>",
			},
			want: "<abc@mail.example>",
		},
		{
			name: "synthetic fallback",
			msg: RawMessage{
				SourceName:      "work-mail",
				SourceMessageID: "42",
			},
			want: "work-mail:42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.StableID(); got != tt.want {
				t.Errorf("StableID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeThreadKey(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"mailbox address lowered", "Alice@Example.COM", "alice@example.com"},
		{"platform id verbatim", "User_1234XyZ", "User_1234XyZ"},
		{"already lower", "bob@example.com", "bob@example.com"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeThreadKey(tt.id); got != tt.want {
				t.Errorf("NormalizeThreadKey(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}
