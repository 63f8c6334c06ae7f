// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

// Package cfgstruct binds configuration structs to pflag flag sets
// using struct field tags.
package cfgstruct

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// options accumulates the effect of BindOpts.
type options struct {
	confDir   string
	defaults  string
	setupMode bool
}

// BindOpt modifies the behavior of Bind.
type BindOpt func(*options)

// ConfDir sets the value that replaces $CONFDIR in default tags.
func ConfDir(path string) BindOpt {
	return func(o *options) { o.confDir = path }
}

// SetupMode issues the flags tagged with setup:"true", which are
// otherwise skipped.
func SetupMode() BindOpt {
	return func(o *options) { o.setupMode = true }
}

// UseDefaults chooses which of the devDefault/releaseDefault tags applies.
func UseDefaults(kind string) BindOpt {
	return func(o *options) { o.defaults = kind }
}

// DefaultsType returns the currently selected defaults kind, resolved from
// the command line or the environment before flag parsing happens.
func DefaultsType() string {
	// use the --defaults flag if specified on the command line
	for i, arg := range os.Args {
		if arg == "--defaults" && i+1 < len(os.Args) {
			return strings.ToLower(os.Args[i+1])
		}
		if strings.HasPrefix(arg, "--defaults=") {
			return strings.ToLower(arg[len("--defaults="):])
		}
	}
	if env := os.Getenv("COLONNADE_DEFAULTS"); env != "" {
		return strings.ToLower(env)
	}
	return "release"
}

// DefaultsFlag adds the --defaults flag to the command and returns the
// BindOpt that applies its resolved value.
func DefaultsFlag(cmd *cobra.Command) BindOpt {
	value := DefaultsType()
	cmd.PersistentFlags().String("defaults", value,
		"determines which set of configuration defaults to use. can either be 'dev' or 'release'")

	return UseDefaults(value)
}

// SetupFlag adds a persistent string flag that is resolved before binding,
// such as --config-dir.
func SetupFlag(log *zap.Logger, cmd *cobra.Command, value *string, name, def, usage string) {
	cmd.PersistentFlags().StringVar(value, name, def, usage)
	if err := cmd.PersistentFlags().SetAnnotation(name, "setup", []string{"true"}); err != nil {
		log.Error("failed to set annotation", zap.String("flag", name), zap.Error(err))
	}
}

// Bind issues flags for the config struct fields on the flag set.
//
// Flag names derive from the field names rendered in snake case; nested
// structs contribute a dot separated prefix, anonymous structs contribute
// nothing. Recognized field tags are help, default, devDefault,
// releaseDefault, hidden, user and setup.
func Bind(flags *pflag.FlagSet, config interface{}, opts ...BindOpt) {
	ptr := reflect.ValueOf(config)
	if ptr.Kind() != reflect.Ptr {
		panic(fmt.Sprintf("invalid config type: %T, expected pointer to struct", config))
	}

	o := options{defaults: "release"}
	for _, opt := range opts {
		opt(&o)
	}

	bindStruct(flags, "", ptr.Elem(), &o)
}

var durationType = reflect.TypeOf(time.Duration(0))

func bindStruct(flags *pflag.FlagSet, prefix string, val reflect.Value, o *options) {
	typ := val.Type()
	if typ.Kind() != reflect.Struct {
		panic(fmt.Sprintf("invalid config type: %v, expected struct", typ))
	}

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		fieldval := val.Field(i)

		if field.PkgPath != "" {
			// unexported
			continue
		}

		if field.Type.Kind() == reflect.Struct && !fieldval.Addr().Type().Implements(pflagValueType) {
			if field.Anonymous {
				bindStruct(flags, prefix, fieldval, o)
			} else {
				bindStruct(flags, prefix+snakeCase(field.Name)+".", fieldval, o)
			}
			continue
		}

		name := prefix + snakeCase(field.Name)

		setup := field.Tag.Get("setup") == "true"
		if setup && !o.setupMode {
			continue
		}

		def := field.Tag.Get("default")
		if devDef, ok := field.Tag.Lookup("devDefault"); ok && o.defaults == "dev" {
			def = devDef
		}
		if relDef, ok := field.Tag.Lookup("releaseDefault"); ok && o.defaults == "release" {
			def = relDef
		}
		if o.confDir != "" {
			def = strings.Replace(def, "$CONFDIR", o.confDir, -1)
		}
		help := field.Tag.Get("help")

		bindField(flags, name, fieldval, def, help)

		if field.Tag.Get("hidden") == "true" {
			mustAnnotate(flags, name, "hidden")
			if err := flags.MarkHidden(name); err != nil {
				panic(fmt.Sprintf("mark hidden %q: %v", name, err))
			}
		}
		if field.Tag.Get("user") == "true" {
			mustAnnotate(flags, name, "user")
		}
		if setup {
			mustAnnotate(flags, name, "setup")
		}
	}
}

var pflagValueType = reflect.TypeOf((*pflag.Value)(nil)).Elem()

func bindField(flags *pflag.FlagSet, name string, fieldval reflect.Value, def, help string) {
	addr := fieldval.Addr().Interface()

	if value, ok := addr.(pflag.Value); ok {
		if def != "" {
			if err := value.Set(def); err != nil {
				panic(fmt.Sprintf("invalid default %q for flag %q: %v", def, name, err))
			}
		}
		flags.Var(value, name, help)
		return
	}

	if fieldval.Type() == durationType {
		val, err := time.ParseDuration(defaulted(def, "0s"))
		if err != nil {
			panic(fmt.Sprintf("invalid default %q for flag %q: %v", def, name, err))
		}
		flags.DurationVar(addr.(*time.Duration), name, val, help)
		return
	}

	switch p := addr.(type) {
	case *string:
		flags.StringVar(p, name, def, help)
	case *bool:
		val, err := strconv.ParseBool(defaulted(def, "false"))
		if err != nil {
			panic(fmt.Sprintf("invalid default %q for flag %q: %v", def, name, err))
		}
		flags.BoolVar(p, name, val, help)
	case *int:
		val, err := strconv.Atoi(defaulted(def, "0"))
		if err != nil {
			panic(fmt.Sprintf("invalid default %q for flag %q: %v", def, name, err))
		}
		flags.IntVar(p, name, val, help)
	case *int64:
		val, err := strconv.ParseInt(defaulted(def, "0"), 10, 64)
		if err != nil {
			panic(fmt.Sprintf("invalid default %q for flag %q: %v", def, name, err))
		}
		flags.Int64Var(p, name, val, help)
	case *uint:
		val, err := strconv.ParseUint(defaulted(def, "0"), 10, 64)
		if err != nil {
			panic(fmt.Sprintf("invalid default %q for flag %q: %v", def, name, err))
		}
		flags.UintVar(p, name, uint(val), help)
	case *uint64:
		val, err := strconv.ParseUint(defaulted(def, "0"), 10, 64)
		if err != nil {
			panic(fmt.Sprintf("invalid default %q for flag %q: %v", def, name, err))
		}
		flags.Uint64Var(p, name, val, help)
	case *float64:
		val, err := strconv.ParseFloat(defaulted(def, "0"), 64)
		if err != nil {
			panic(fmt.Sprintf("invalid default %q for flag %q: %v", def, name, err))
		}
		flags.Float64Var(p, name, val, help)
	default:
		panic(fmt.Sprintf("invalid field type %v for flag %q", fieldval.Type(), name))
	}
}

func defaulted(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func mustAnnotate(flags *pflag.FlagSet, name, key string) {
	if err := flags.SetAnnotation(name, key, []string{"true"}); err != nil {
		panic(fmt.Sprintf("annotate %q: %v", name, err))
	}
}

// snakeCase converts CamelCase to snake_case, keeping acronym runs together.
func snakeCase(s string) string {
	var out strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && isUpper(r) {
			prevLower := isLower(runes[i-1])
			nextLower := i+1 < len(runes) && isLower(runes[i+1])
			if prevLower || nextLower {
				out.WriteByte('_')
			}
		}
		out.WriteRune(toLower(r))
	}
	return out.String()
}

func isUpper(r rune) bool { return 'A' <= r && r <= 'Z' }
func isLower(r rune) bool { return 'a' <= r && r <= 'z' || '0' <= r && r <= '9' }

func toLower(r rune) rune {
	if isUpper(r) {
		return r + ('a' - 'A')
	}
	return r
}
