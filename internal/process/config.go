// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

// Package process binds a configuration struct to a cobra command's flags
// and to environment-variable overrides, modeled on storj's
// pkg/process.Bind/Exec (see pkg/process/exec_conf_test.go): a `default:"…"`
// struct tag supplies the flag's default, `devDefault:"…"` /
// `releaseDefault:"…"` override it depending on the Release build mode, and
// `HSM_SHIPPER_<FIELD>` environment variables override all of the above via
// viper, following the teacher's STORJ_-prefixed convention.
package process

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is this binary's environment-variable prefix.
const EnvPrefix = "HSM_SHIPPER"

// Release selects which of devDefault/releaseDefault a field's flag default
// is taken from, mirroring the teacher's build-mode-dependent defaults.
// Overridden to false by test binaries that want dev-mode defaults.
var Release = true

// fieldDefault resolves a field's flag default, preferring releaseDefault or
// devDefault (chosen by Release) over the plain default tag.
func fieldDefault(field reflect.StructField) string {
	if Release {
		if rd, ok := field.Tag.Lookup("releaseDefault"); ok {
			return rd
		}
	} else {
		if dd, ok := field.Tag.Lookup("devDefault"); ok {
			return dd
		}
	}
	return field.Tag.Get("default")
}

// Bind walks config's exported fields and registers one flag per field on
// cmd, named by converting the field name to snake_case, honoring
// `default:"…"` / `devDefault:"…"` / `releaseDefault:"…"` tags and a
// `flag:"…"` tag that overrides the generated name.
// Supported field kinds: string, int, int64, bool, time.Duration.
func Bind(cmd *cobra.Command, config interface{}) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)

	val := reflect.ValueOf(config).Elem()
	typ := val.Type()

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}

		name := field.Tag.Get("flag")
		if name == "" {
			name = toSnakeCase(field.Name)
		}
		help := field.Tag.Get("help")
		def := fieldDefault(field)
		hidden := field.Tag.Get("hidden") == "true"

		fv := val.Field(i)
		flags := cmd.Flags()

		switch fv.Kind() {
		case reflect.String:
			flags.String(name, def, help)
		case reflect.Int, reflect.Int64:
			if fv.Type() == reflect.TypeOf(time.Duration(0)) {
				d, _ := time.ParseDuration(def)
				flags.Duration(name, d, help)
			} else {
				n, _ := strconv.ParseInt(def, 10, 64)
				flags.Int64(name, n, help)
			}
		case reflect.Bool:
			b, _ := strconv.ParseBool(def)
			flags.Bool(name, b, help)
		default:
			return fmt.Errorf("process.Bind: unsupported field kind %s for %s", fv.Kind(), field.Name)
		}

		if hidden {
			_ = flags.MarkHidden(name)
		}
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return err
		}
	}

	cmd.PreRunE = chainPreRunE(cmd.PreRunE, func(cmd *cobra.Command, args []string) error {
		return apply(v, val, typ)
	})

	return nil
}

func apply(v *viper.Viper, val reflect.Value, typ reflect.Type) error {
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.PkgPath != "" {
			continue
		}
		name := field.Tag.Get("flag")
		if name == "" {
			name = toSnakeCase(field.Name)
		}
		fv := val.Field(i)

		switch fv.Kind() {
		case reflect.String:
			fv.SetString(v.GetString(name))
		case reflect.Int, reflect.Int64:
			if fv.Type() == reflect.TypeOf(time.Duration(0)) {
				fv.Set(reflect.ValueOf(v.GetDuration(name)))
			} else {
				fv.SetInt(v.GetInt64(name))
			}
		case reflect.Bool:
			fv.SetBool(v.GetBool(name))
		}
	}
	return nil
}

// Snapshot returns config's bound values as a name->value map suitable for
// printing or saving, omitting every field tagged `hidden:"true"` entirely —
// matching the teacher's SaveConfig behavior of never writing a secret like
// the Redis password to a config file or stdout.
func Snapshot(config interface{}) map[string]interface{} {
	val := reflect.ValueOf(config).Elem()
	typ := val.Type()

	out := make(map[string]interface{}, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.PkgPath != "" {
			continue
		}
		if field.Tag.Get("hidden") == "true" {
			continue
		}
		name := field.Tag.Get("flag")
		if name == "" {
			name = toSnakeCase(field.Name)
		}
		out[name] = val.Field(i).Interface()
	}
	return out
}

func chainPreRunE(existing, next func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if existing != nil {
			if err := existing(cmd, args); err != nil {
				return err
			}
		}
		return next(cmd, args)
	}
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
