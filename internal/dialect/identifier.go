package dialect

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Normalization is how a dialect folds names into identity keys.
type Normalization int

const (
	// NormExact compares catalog names byte for byte. Catalogs that keep
	// delimited identifiers case-sensitive use it.
	NormExact Normalization = iota
	NormLowercase
	NormUppercase
)

func (n Normalization) Apply(name string) string {
	switch n {
	case NormLowercase:
		return strings.ToLower(name)
	case NormUppercase:
		return strings.ToUpper(name)
	default:
		return name
	}
}

// QuoteIdentifier wraps name in double quotes, doubling embedded quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral wraps value in single quotes, doubling embedded quotes.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// ValidateIdentifier checks that name can be used in DDL once quoted:
// non-empty, within maxLen bytes when maxLen is positive, valid UTF-8 and
// free of NUL characters.
func ValidateIdentifier(name string, maxLen int) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	if maxLen > 0 && len(name) > maxLen {
		return fmt.Errorf("name must be at most %d bytes", maxLen)
	}
	if !utf8.ValidString(name) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("name contains invalid characters")
	}
	return nil
}

// dataTypeRe matches type names with optional precision and array suffix,
// such as VARCHAR(255), NUMERIC(10, 2), INTEGER[] or "double precision".
var dataTypeRe = regexp.MustCompile(`(?i)^[A-Z][A-Z0-9_ ]*(?:\(\s*\d+\s*(?:,\s*\d+\s*)?\))?(?:\[\])?$`)

const maxDataTypeLen = 64

// ValidateDataType rejects column types that are not a plain type name.
func ValidateDataType(typeName string) error {
	if typeName == "" {
		return fmt.Errorf("data type is required")
	}
	if len(typeName) > maxDataTypeLen {
		return fmt.Errorf("data type must be at most %d characters", maxDataTypeLen)
	}
	if strings.ContainsAny(typeName, ";-'\"\\") {
		return fmt.Errorf("data type contains invalid characters")
	}
	if !dataTypeRe.MatchString(typeName) {
		return fmt.Errorf("data type %q is not a recognized type pattern", typeName)
	}
	return nil
}
