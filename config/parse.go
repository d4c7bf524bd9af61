package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Secret is a string that is never printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

var (
	// ErrNotStructPtr is returned when Parse is not given a pointer to a struct.
	ErrNotStructPtr = errors.New("must be a pointer to a struct")
	// ErrRequired is returned for required variables without a value.
	ErrRequired = errors.New("required variable is not set")
)

var durationType = reflect.TypeOf(time.Duration(0))

// Parse fills the `env` tagged fields of the struct dst points to from envRepo. A tag is the
// variable name followed by options: `required`, or `opt[a,b]` to restrict the value. Unset
// variables keep the field's current value.
func Parse(dst interface{}, envRepo env.Repository) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return ErrNotStructPtr
	}
	v = v.Elem()
	t := v.Type()

	var errs []error
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, ok := field.Tag.Lookup("env")
		if !ok {
			continue
		}
		name, opts := parseTag(tag)

		value := envRepo.Get(name)
		if value == "" {
			if opts.required {
				errs = append(errs, fmt.Errorf("%s: %w", name, ErrRequired))
			}
			continue
		}
		if len(opts.allowed) > 0 && !contains(opts.allowed, value) {
			errs = append(errs, fmt.Errorf("%s: value %q is not one of %s", name, value, strings.Join(opts.allowed, ", ")))
			continue
		}
		if err := setField(v.Field(i), value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

type tagOptions struct {
	required bool
	allowed  []string
}

func parseTag(tag string) (string, tagOptions) {
	name, rest, _ := strings.Cut(tag, ",")
	var opts tagOptions
	rest = strings.TrimSpace(rest)
	switch {
	case rest == "required":
		opts.required = true
	case strings.HasPrefix(rest, "opt[") && strings.HasSuffix(rest, "]"):
		opts.allowed = strings.Split(strings.TrimSuffix(strings.TrimPrefix(rest, "opt["), "]"), ",")
	}
	return strings.TrimSpace(name), opts
}

func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	return strconv.ParseBool(value)
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// Print logs the `env` tagged fields of cfg; secrets are masked, zero values show as <unset>.
func Print(cfg interface{}, logger log.Logger) {
	v := reflect.Indirect(reflect.ValueOf(cfg))
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()

	logger.Infof("%s:", t.Name())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Name
		if tag, ok := field.Tag.Lookup("env"); ok {
			name, _ = parseTag(tag)
		}
		logger.Printf("- %s: %s", name, valueString(v.Field(i)))
	}
}

func valueString(v reflect.Value) string {
	if v.IsZero() {
		return "<unset>"
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v.Interface())
}
