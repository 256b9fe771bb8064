package shared

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const Version = "0.3.0"

// Parser converts a raw environment value into T.
type Parser[T any] func(raw string) (T, error)

func GetenvString(raw string) (string, error) { return raw, nil }

func GetenvBool(raw string) (bool, error) { return strconv.ParseBool(raw) }

func GetenvInt(raw string) (int, error) { return strconv.Atoi(raw) }

func GetenvDuration(raw string) (time.Duration, error) { return time.ParseDuration(raw) }

// Getenv reads key and parses it. A missing key yields def unless required.
func Getenv[T any](parse Parser[T], key string, required bool, def T) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		if required {
			return def, fmt.Errorf("environment variable %s is required", key)
		}
		return def, nil
	}
	v, err := parse(raw)
	if err != nil {
		return def, fmt.Errorf("parsing environment variable %s: %w", key, err)
	}
	return v, nil
}

func MustGetenv[T any](parse Parser[T], key string, required bool, def T) T {
	v, err := Getenv(parse, key, required, def)
	if err != nil {
		panic(err)
	}
	return v
}
