package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// env reads typed values and remembers the first malformed one.
type env struct {
	err error
}

func (e *env) fail(k, v string, cause error) {
	if e.err == nil {
		e.err = errors.WithMessagef(ErrConfiguration, "%s=%q: %v", k, v, cause)
	}
}

func (e *env) str(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func (e *env) integer(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return i
}

func (e *env) integer64(k string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return i
}

func (e *env) boolean(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return b
}

func (e *env) duration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return d
}

// millis reads a whole number of milliseconds.
func (e *env) millis(k string, def time.Duration) time.Duration {
	ms := e.integer64(k, def.Milliseconds())
	return time.Duration(ms) * time.Millisecond
}
