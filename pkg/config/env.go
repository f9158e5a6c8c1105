package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// envRefPattern matches ${VAR}, ${VAR:-default} and bare $VAR in one
// pass. Only uppercase names expand, so prompt text containing "$5" or
// "$variable" survives untouched.
var envRefPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)(?::-([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		groups := envRefPattern.FindStringSubmatch(ref)

		name := groups[1]
		if name == "" {
			name = groups[3]
		}

		if val := os.Getenv(name); val != "" {
			return val
		}
		return groups[2]
	})
}

// parseValue retypes an expanded scalar. "true"/"false" become bools
// and numeric strings become numbers, so env-sourced values decode the
// same way literal YAML values would.
func parseValue(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}

	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// ExpandEnvVarsInData walks a decoded YAML tree and expands environment
// references in every string value. Strings changed by expansion are
// retyped via parseValue.
func ExpandEnvVarsInData(data any) any {
	switch v := data.(type) {
	case string:
		if expanded := expandEnvVars(v); expanded != v {
			return parseValue(expanded)
		}
		return v

	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = ExpandEnvVarsInData(val)
		}
		return out

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ExpandEnvVarsInData(item)
		}
		return out

	default:
		return v
	}
}

// LoadEnvFiles loads .env.local then .env from the working directory.
// Missing files are fine; values already in the environment win.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}
