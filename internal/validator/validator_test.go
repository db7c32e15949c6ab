package validator_test

import (
	"fmt"
	"testing"

	"serverlist-backend/internal/validator"
)

type testCase struct {
	name          string
	input         string
	expectedError error
}

func run(t *testing.T, fn string, rule func(string) error, tests []testCase) {
	t.Helper()

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := rule(tc.input)

			if tc.expectedError == nil {
				if err != nil {
					t.Errorf("%s(%q) failed unexpectedly: got error %v, want nil", fn, tc.input, err)
				}
				return
			}

			if err == nil {
				t.Errorf("%s(%q) passed unexpectedly: got nil, want error %v", fn, tc.input, tc.expectedError)
				return
			}

			if err.Error() != tc.expectedError.Error() {
				t.Errorf("%s(%q) got error %q, want error %q", fn, tc.input, err.Error(), tc.expectedError.Error())
			}
		})
	}
}

func TestEmail(t *testing.T) {
	run(t, "Email", validator.Email, []testCase{
		{name: "Valid: Standard email", input: "user@gmail.com"},
		{name: "Valid: Email with plus sign in local part", input: "user+tag@yahoo.co.uk"},
		{name: "Valid: Email with underscore and dot in local part", input: "first.last_name@yahoo.co.uk"},
		{name: "Valid: Any domain", input: "user@wasistdas.com"},

		{name: "Error: Too long (67 characters)", input: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa@web.de", expectedError: fmt.Errorf("long_email")},

		{name: "Error: Missing @ sign", input: "userexample.com", expectedError: fmt.Errorf("bad_format")},
		{name: "Error: Missing domain part", input: "user@", expectedError: fmt.Errorf("bad_format")},
		{name: "Error: Missing TLD", input: "user@domain", expectedError: fmt.Errorf("bad_format")},
		{name: "Error: Local part starting with dot", input: ".user@example.com", expectedError: fmt.Errorf("bad_format")},
		{name: "Error: Domain part ending with hyphen", input: "user@example-.com", expectedError: fmt.Errorf("bad_format")},
		{name: "Error: TLD contains a number", input: "user@example.c1", expectedError: fmt.Errorf("bad_format")},
	})
}

func TestPassword(t *testing.T) {
	run(t, "Password", validator.Password, []testCase{
		{name: "Valid Password: Minimum Length", input: "abcdefg1"},
		{name: "Valid Password: Maximum Length", input: "aBc12345678901234567890123456789"},
		{name: "Valid Password: Symbols", input: "P@sswOrd123!"},

		{name: "Error: Password Too Short", input: "abc1234", expectedError: fmt.Errorf("short_password")},
		{name: "Error: Password Too Long", input: "aBc123456789012345678901234567890123", expectedError: fmt.Errorf("long_password")},
		{name: "Error: Missing Letter", input: "1234567890", expectedError: fmt.Errorf("no_letter")},
		{name: "Error: Missing Number", input: "PasswordABC", expectedError: fmt.Errorf("no_number")},
	})
}

func TestUsername(t *testing.T) {
	run(t, "Username", validator.Username, []testCase{
		{name: "Valid: Letters digits underscore", input: "steve_01"},
		{name: "Valid: Minimum length", input: "abc"},

		{name: "Error: Too short", input: "ab", expectedError: fmt.Errorf("short_username")},
		{name: "Error: Too long", input: "abcdefghijklmnopqrstu", expectedError: fmt.Errorf("long_username")},
		{name: "Error: Contains hyphen", input: "steve-01", expectedError: fmt.Errorf("bad_format")},
		{name: "Error: Contains space", input: "steve 01", expectedError: fmt.Errorf("bad_format")},
	})
}

func TestDisplayName(t *testing.T) {
	run(t, "DisplayName", validator.DisplayName, []testCase{
		{name: "Valid: Latin with hyphen", input: "Mike-Z"},
		{name: "Valid: Chinese", input: "张三"},
		{name: "Valid: Cyrillic", input: "Миша"},
		{name: "Valid: Mixed with digit at end", input: "张三-Mike2"},

		{name: "Error: Too short", input: "a", expectedError: fmt.Errorf("short_display_name")},
		{name: "Error: Too long", input: "abcdefghijklmnopq", expectedError: fmt.Errorf("long_display_name")},
		{name: "Error: Starts with digit", input: "1mike", expectedError: fmt.Errorf("bad_format")},
		{name: "Error: Ends with hyphen", input: "mike-", expectedError: fmt.Errorf("bad_format")},
		{name: "Error: Contains space", input: "mike z", expectedError: fmt.Errorf("bad_format")},
	})
}

func TestStructTags(t *testing.T) {
	type registration struct {
		Username    string `validate:"username"`
		Password    string `validate:"password"`
		DisplayName string `validate:"displayname"`
		Email       string `validate:"mailbox"`
	}

	validate := validator.New()

	if err := validate.Struct(registration{Username: "steve", Password: "password1", DisplayName: "Steve", Email: "steve@example.com"}); err != nil {
		t.Errorf("valid registration rejected: %v", err)
	}

	if err := validate.Struct(registration{Username: "s", Password: "password", DisplayName: "-", Email: "steve"}); err == nil {
		t.Error("invalid registration accepted")
	}
}
