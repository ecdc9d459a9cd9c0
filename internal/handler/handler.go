package handler

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/segyhp/vault-engine/internal/ledger"
	customError "github.com/segyhp/vault-engine/pkg/errors"
)

// NewValidator returns a validator that understands decimal amounts.
// decimal_gt and decimal_gte compare against their parameter.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("decimal_gt", decimalCompare(func(d, limit decimal.Decimal) bool { return d.GreaterThan(limit) }))
	_ = v.RegisterValidation("decimal_gte", decimalCompare(func(d, limit decimal.Decimal) bool { return d.GreaterThanOrEqual(limit) }))
	return v
}

func decimalCompare(cmp func(d, limit decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		limit, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return cmp(d, limit)
	}
}

// decode reads a JSON body into dst and validates it.
func decode(r *http.Request, v *validator.Validate, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return customError.WrapValidation("invalid request body: %v", err)
	}
	if err := v.Struct(dst); err != nil {
		return customError.WrapValidation("%s", describe(err))
	}
	return nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Namespace() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}

// account reads and checks the {account} path variable.
func account(r *http.Request) (string, error) {
	a := mux.Vars(r)["account"]
	if !ledger.ValidAddress(a) {
		return "", customError.WrapValidation("invalid account address %q", a)
	}
	return ledger.NormalizeAddress(a), nil
}
