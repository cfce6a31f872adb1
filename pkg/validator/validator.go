package validator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// FallbackMessage is returned when a validation failure carries no field errors.
const FallbackMessage = "Invalid request data."

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	mustRegister(v, "has_upper", containsRune(inRange('A', 'Z')))
	mustRegister(v, "has_lower", containsRune(inRange('a', 'z')))
	mustRegister(v, "has_digit", containsRune(inRange('0', '9')))
	mustRegister(v, "max_bytes", maxBytes)
	// bcrypt only accepts 72 bytes; max=64 counts runes.
	v.RegisterAlias("password_strength", "min=8,max=64,max_bytes=72,has_upper,has_lower,has_digit")

	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

func containsRune(pred func(rune) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return strings.IndexFunc(fl.Field().String(), pred) >= 0
	}
}

func inRange(lo, hi rune) func(rune) bool {
	return func(r rune) bool { return r >= lo && r <= hi }
}

func maxBytes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		panic(fmt.Sprintf("max_bytes: bad param %q", fl.Param()))
	}
	return len(fl.Field().String()) <= limit
}

// Validate validates a struct using go-playground/validator tags.
func Validate(s any) error {
	if err := validate.Struct(s); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return &ValidationError{Errors: validationErrors}
		}
		return err
	}
	return nil
}

// ValidationError wraps validator.ValidationErrors with user-facing messages.
type ValidationError struct {
	Errors validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, msgForTag(err))
	}
	return strings.Join(msgs, "; ")
}

// Message returns the message of the first failing rule, in declaration order.
func (e *ValidationError) Message() string {
	if len(e.Errors) == 0 {
		return FallbackMessage
	}
	return msgForTag(e.Errors[0])
}

// Fields returns a map of field names to error messages.
func (e *ValidationError) Fields() map[string]string {
	fields := make(map[string]string, len(e.Errors))
	for _, err := range e.Errors {
		fields[err.Field()] = msgForTag(err)
	}
	return fields
}

func label(field string) string {
	if field == "" {
		return field
	}
	r := []rune(field)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func msgForTag(fe validator.FieldError) string {
	name := label(fe.Field())

	switch fe.ActualTag() {
	case "required":
		return fmt.Sprintf("%s is required.", name)
	case "email":
		return "Please enter a valid email address."
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters long.", name, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s.", name, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s cannot be longer than %s characters.", name, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s.", name, fe.Param())
	case "max_bytes":
		return fmt.Sprintf("%s is too long.", name)
	case "has_upper":
		return fmt.Sprintf("%s must contain at least one uppercase letter.", name)
	case "has_lower":
		return fmt.Sprintf("%s must contain at least one lowercase letter.", name)
	case "has_digit":
		return fmt.Sprintf("%s must contain at least one number.", name)
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID.", name)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s.", name, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid.", name)
	}
}

// DecodeAndValidate reads JSON from the request body, decodes it into dst,
// and validates it.
func DecodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return Validate(dst)
}
