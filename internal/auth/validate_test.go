package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRegistration(t *testing.T) {
	cases := []struct {
		name     string
		input    RegisterInput
		field    string
		contains string
	}{
		{name: "valid", input: RegisterInput{Username: "alice", Password: "Str0ngPass!word"}},
		{name: "short password", input: RegisterInput{Username: "alice", Password: "Sh0rt!pass"}, field: "password", contains: "at least 12"},
		{name: "no special", input: RegisterInput{Username: "alice", Password: "Str0ngPassword"}, field: "password", contains: "upper and lower"},
		{name: "no digit", input: RegisterInput{Username: "alice", Password: "StrongPass!word"}, field: "password", contains: "upper and lower"},
		{name: "common", input: RegisterInput{Username: "alice", Password: "Password123!"}, field: "password", contains: "too common"},
		{name: "leading symbol", input: RegisterInput{Username: "_alice", Password: "Str0ngPass!word"}, field: "username", contains: "must start"},
		{name: "missing username", input: RegisterInput{Password: "Str0ngPass!word"}, field: "username", contains: "required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRegistration(tc.input)
			if tc.field == "" {
				require.NoError(t, err)
				return
			}

			var invalid ValidationError
			require.ErrorAs(t, err, &invalid)
			require.Equal(t, tc.field, invalid.Field)
			require.Contains(t, invalid.Message, tc.contains)
		})
	}
}
