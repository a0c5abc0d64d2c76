package validation

import (
	"reflect"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-payment-reconciler/internal/ledger"
)

// DateLayout is the format accepted by the "date" tag.
const DateLayout = "2006-01-02"

// New returns a validator with the custom tags registered. Field names in
// errors come from the env, form or json struct tags, in that order.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(tagName)

	// "date" accepts YYYY-MM-DD calendar dates
	_ = v.RegisterValidation("date", func(fl validatorv10.FieldLevel) bool {
		_, err := time.Parse(DateLayout, fl.Field().String())
		return err == nil
	})
	// "ledger_status" accepts any persisted ledger status
	_ = v.RegisterValidation("ledger_status", func(fl validatorv10.FieldLevel) bool {
		_, err := ledger.ParseStatus(fl.Field().String())
		return err == nil
	})

	return v
}

func tagName(f reflect.StructField) string {
	for _, key := range []string{"env", "form", "json"} {
		name := strings.SplitN(f.Tag.Get(key), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}
