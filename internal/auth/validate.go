package auth

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const passwordSpecialChars = "!@#$%^&*(),.?:|<>"

var (
	usernameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

	commonPasswords = map[string]struct{}{
		"password123!":  {},
		"password1234!": {},
		"qwerty123456!": {},
		"admin123456!":  {},
		"letmein12345!": {},
		"welcome12345!": {},
		"p@ssw0rd1234":  {},
		"changeme123!":  {},
		"iloveyou1234!": {},
		"123456789abc!": {},
	}
)

type RegisterInput struct {
	Username string `validate:"required,min=3,max=50,username"`
	Password string `validate:"required,min=12,max=128,strong_password,not_common"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("strong_password", func(fl validator.FieldLevel) bool {
		return isStrongPassword(fl.Field().String())
	})
	_ = v.RegisterValidation("not_common", func(fl validator.FieldLevel) bool {
		_, common := commonPasswords[strings.ToLower(fl.Field().String())]
		return !common
	})
	return v
}

// ValidateRegistration returns a ValidationError describing the first failed rule.
func ValidateRegistration(input RegisterInput) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return ValidationError{Message: "invalid registration input"}
	}

	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	return ValidationError{Field: field, Message: validationMessage(field, fe.Tag(), fe.Param())}
}

func validationMessage(field, tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + param + " characters"
	case "max":
		return "must be at most " + param + " characters"
	case "username":
		return "must start with a letter or digit and contain only letters, digits, '_', '.' or '-'"
	case "strong_password":
		return "must contain upper and lower case letters, a digit and one of " + passwordSpecialChars
	case "not_common":
		return "is too common"
	default:
		return "is invalid"
	}
}

func isStrongPassword(password string) bool {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecialChars, r):
			special = true
		}
	}
	return upper && lower && digit && special
}
