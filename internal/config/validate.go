package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	lowerDash = regexp.MustCompile(`^[a-z][a-z-]*$`)
	pascal    = regexp.MustCompile(`^[A-Z][A-Za-z]*$`)
	iamEntity = regexp.MustCompile(`^(?:group|user|role)/`)
)

// ValidationError lists every failed rule as "<property chain>: <message>".
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration:\n  " + strings.Join(e.Problems, "\n  ")
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("lowerdash", matches(lowerDash))
	_ = v.RegisterValidation("pascal", matches(pascal))
	_ = v.RegisterValidation("iamentity", matches(iamEntity))
	return v
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// Validate checks the configuration and returns a *ValidationError describing every problem.
func (c *Config) Validate() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate configuration: %w", err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describe(fe))
	}
	return &ValidationError{Problems: problems}
}

func describe(fe validator.FieldError) string {
	chain := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return chain + ": must not be empty"
	case "lowerdash":
		return fmt.Sprintf("%s: %q must match %s", chain, fe.Value(), lowerDash)
	case "pascal":
		return fmt.Sprintf("%s: %q must match %s", chain, fe.Value(), pascal)
	case "iamentity":
		return fmt.Sprintf("%s: %q must match %s", chain, fe.Value(), iamEntity)
	case "oneof":
		return fmt.Sprintf("%s: %q must be one of [%s]", chain, fe.Value(), fe.Param())
	case "cidrv4":
		return fmt.Sprintf("%s: %q must be an IPv4 CIDR block", chain, fe.Value())
	case "gte":
		return fmt.Sprintf("%s: must be at least %s", chain, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s: must not be less than %s", chain, fe.Param())
	default:
		return fmt.Sprintf("%s: failed %q", chain, fe.Tag())
	}
}
