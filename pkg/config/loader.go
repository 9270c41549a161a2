// Package config loads settings structs from struct-tag defaults, an
// optional YAML or JSON file, and the process environment. Values are
// resolved in priority order:
//
//	envDefault struct tags  (lowest priority)
//	YAML/JSON config file   (medium priority)
//	Environment variables   (highest priority)
//
// # Struct Tags
//
//   - `env:"VAR_NAME"` maps the field to an environment variable
//   - `envDefault:"value"` sets a default when the field is zero-valued
//   - `required:"true"` fails loading if the field is still empty afterwards
//
// A string field holding only whitespace counts as empty. Required-field
// errors name the environment variable that should have supplied the value,
// so an operator can fix the deployment without reading code.
//
// # Usage
//
//	type Settings struct {
//	    TenantID string        `env:"AZURE_AD_TENANT_ID" yaml:"tenant_id" required:"true"`
//	    CacheTTL time.Duration `env:"AUTH_JWKS_CACHE_TTL" envDefault:"1h" yaml:"cache_ttl"`
//	}
//
//	var s Settings
//	err := config.New().WithFile("guard.yaml").Load(&s)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/entra-guard/pkg/errors"
)

// durationType distinguishes time.Duration from plain int64 fields.
var durationType = reflect.TypeOf(time.Duration(0))

// LookupFunc reports the value of an environment variable and whether it is
// set. os.LookupEnv is the default.
type LookupFunc func(key string) (string, bool)

// Loader resolves a settings struct. It is not safe for concurrent use;
// build one per Load call.
type Loader struct {
	envPrefix string
	filePath  string
	lookup    LookupFunc
}

// New returns a Loader that reads the process environment only.
func New() *Loader {
	return &Loader{lookup: os.LookupEnv}
}

// WithEnvPrefix prepends prefix and an underscore to every env tag. The
// prefix is uppercased.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets an optional YAML (.yaml, .yml) or JSON (.json) file. A
// missing file is not an error. Paths containing ".." are rejected at load.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithLookup replaces the environment source. Tests use it to load from a
// map instead of mutating process state.
func (l *Loader) WithLookup(fn LookupFunc) *Loader {
	if fn != nil {
		l.lookup = fn
	}
	return l
}

// Load fills cfg, which must be a non-nil pointer to a struct, then checks
// required fields and calls cfg's Validate method if it implements
// [Validator].
//
// Loading failures carry [sserr.CodeInternalConfiguration]; a missing
// required value carries [sserr.CodeValidationRequired].
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()

	if err := walk(rv, l.envPrefix, "", applyDefault); err != nil {
		return err
	}

	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}

	if err := walk(rv, l.envPrefix, "", l.applyEnv); err != nil {
		return err
	}

	return validate(cfg, rv, l.envPrefix)
}

// MustLoad loads a T or panics. Intended for func main.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to parse YAML file %q", l.filePath)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to parse JSON file %q", l.filePath)
		}
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}
	return nil
}

// fieldVisitor is called for every settable leaf field. envKey is empty when
// the field has no env tag; path is the dotted Go field path.
type fieldVisitor func(field reflect.Value, sf reflect.StructField, envKey, path string) error

// walk visits leaf fields depth-first. A nested struct's env tag becomes a
// prefix for its children.
func walk(rv reflect.Value, prefix, path string, visit fieldVisitor) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}

		envTag := sf.Tag.Get("env")
		fieldPath := joinPath(path, ".", sf.Name)

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			nested := prefix
			if envTag != "" {
				nested = joinPath(prefix, "_", envTag)
			}
			if err := walk(field, nested, fieldPath, visit); err != nil {
				return err
			}
			continue
		}

		envKey := ""
		if envTag != "" {
			envKey = joinPath(prefix, "_", envTag)
		}
		if err := visit(field, sf, envKey, fieldPath); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(prefix, sep, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + sep + name
}

func applyDefault(field reflect.Value, sf reflect.StructField, _, path string) error {
	def, ok := sf.Tag.Lookup("envDefault")
	if !ok || !field.IsZero() {
		return nil
	}
	if err := setField(field, def); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to apply default for field %q", path)
	}
	return nil
}

func (l *Loader) applyEnv(field reflect.Value, _ reflect.StructField, envKey, path string) error {
	if envKey == "" {
		return nil
	}
	val, ok := l.lookup(envKey)
	if !ok {
		return nil
	}
	if err := setField(field, val); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to set field %q from env var %s", path, envKey).
			WithDetail("env", envKey)
	}
	return nil
}

// setField parses value into field. Supported kinds: string (and named
// string types), bool, signed integers, time.Duration and []string
// (comma-separated).
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(strings.TrimSpace(p))
		}
		field.Set(slice)

	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
