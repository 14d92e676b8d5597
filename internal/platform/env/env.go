// Package env reads typed settings from the process environment. A variable
// that is unset or blank yields the default; a malformed one is an error that
// names the variable.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func String(key string, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	return parse(key, def, time.ParseDuration)
}

func Bool(key string, def bool) (bool, error) {
	return parse(key, def, strconv.ParseBool)
}

func Int(key string, def int) (int, error) {
	return parse(key, def, strconv.Atoi)
}

func Float(key string, def float64) (float64, error) {
	return parse(key, def, func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	})
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func parse[T any](key string, def T, fn func(string) (T, error)) (T, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	out, err := fn(v)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	return out, nil
}
