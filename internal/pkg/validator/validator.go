package validator

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Details maps the failing fields of a binding error to the rule they broke,
// keyed by snake_case field name. Errors that are not validation errors,
// such as malformed JSON, yield nil.
func Details(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		details[snakeCase(fe.Field())] = rule
	}
	return details
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
