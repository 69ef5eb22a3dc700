package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/hackgods/clinic-capacity-engine/internal/apperr"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/matcher"
)

// Validator checks request bodies and reports failures per JSON field.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("hhmm", validateClock)
	_ = v.RegisterValidation("ymd", validateDate)
	_ = v.RegisterValidation("timewindow", validateWindow)

	return &Validator{validate: v}
}

func validateClock(fl validator.FieldLevel) bool {
	_, err := capacity.ParseClock(fl.Field().String())
	return err == nil
}

func validateDate(fl validator.FieldLevel) bool {
	_, err := capacity.ParseDate(fl.Field().String())
	return err == nil
}

func validateWindow(fl validator.FieldLevel) bool {
	_, err := matcher.ParseWindow(fl.Field().String())
	return err == nil
}

func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return apperr.Validation("invalid_request", err.Error())
	}

	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fieldPath(fe)] = message(fe)
	}
	return apperr.ValidationFields(fields)
}

// fieldPath turns the validator namespace into a JSON path. Go-named
// segments (the request type and embedded structs) are dropped.
func fieldPath(fe validator.FieldError) string {
	var parts []string
	for _, seg := range strings.Split(fe.Namespace(), ".") {
		if seg == "" || unicode.IsUpper(rune(seg[0])) {
			continue
		}
		parts = append(parts, seg)
	}
	if len(parts) == 0 {
		return fe.Field()
	}
	return strings.Join(parts, ".")
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "uuid":
		return "must be a valid UUID"
	case "hhmm":
		return "must be a time as HH:MM"
	case "ymd":
		return "must be a date as YYYY-MM-DD"
	case "timewindow":
		return "must be a window as HH:MM-HH:MM with end after start"
	default:
		return fmt.Sprintf("failed %s", fe.Tag())
	}
}
