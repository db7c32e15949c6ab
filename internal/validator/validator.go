package validator

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	emailRegex       = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._+-]*[a-zA-Z0-9])?@[a-zA-Z0-9]([a-zA-Z0-9.-]*[a-zA-Z0-9])?\.[a-zA-Z]{2,}$`)
	usernameRegex    = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	displayNameRegex = regexp.MustCompile(`^[a-zA-Zа-яА-ЯёЁ\x{4e00}-\x{9fff}][a-zA-Zа-яА-ЯёЁ\x{4e00}-\x{9fff}0-9_-]{0,28}[a-zA-Zа-яА-ЯёЁ\x{4e00}-\x{9fff}0-9]$|^[a-zA-Zа-яА-ЯёЁ\x{4e00}-\x{9fff}]$`)
	letter           = regexp.MustCompile(`[a-zA-Z]`)
	number           = regexp.MustCompile(`\d`)
)

func Email(email string) error {
	const maxlength = 64

	if len(email) > maxlength {
		return fmt.Errorf("long_email")
	}

	if !emailRegex.MatchString(email) {
		return fmt.Errorf("bad_format")
	}

	return nil
}

func Password(password string) error {
	length := len(password)
	if length < 8 {
		return fmt.Errorf("short_password")
	} else if length > 32 {
		return fmt.Errorf("long_password")
	}

	if !letter.MatchString(password) {
		return fmt.Errorf("no_letter")
	}
	if !number.MatchString(password) {
		return fmt.Errorf("no_number")
	}
	return nil
}

func Username(username string) error {
	length := len(username)
	if length < 3 {
		return fmt.Errorf("short_username")
	} else if length > 20 {
		return fmt.Errorf("long_username")
	}

	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("bad_format")
	}
	return nil
}

// DisplayName allows latin, cyrillic and CJK letters, digits, _ and -.
func DisplayName(displayName string) error {
	length := utf8.RuneCountInString(displayName)
	if length < 2 {
		return fmt.Errorf("short_display_name")
	} else if length > 16 {
		return fmt.Errorf("long_display_name")
	}

	if !displayNameRegex.MatchString(displayName) {
		return fmt.Errorf("bad_format")
	}
	return nil
}

// New returns a go-playground validator that also understands the password,
// username, displayname and mailbox tags.
func New() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	rules := map[string]func(string) error{
		"password":    Password,
		"username":    Username,
		"displayname": DisplayName,
		"mailbox":     Email,
	}

	for tag, rule := range rules {
		err := validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return rule(fl.Field().String()) == nil
		})
		if err != nil {
			// only fails for an empty tag or nil func
			panic(err)
		}
	}

	return validate
}
