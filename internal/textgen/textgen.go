// Package textgen produces random but well-formed text for issue payloads.
//
// Generators are not safe for concurrent use; each virtual user owns one.
package textgen

import (
	"fmt"
	"math/rand"
	"strings"
)

// Generator produces synthetic issue text.
type Generator interface {
	Summary() string
	Description() string
	Comment() string
}

// Locales understood by New.
const (
	LocaleEnglish = "en"
	LocaleChinese = "zh"
)

// Locales lists the supported locale names.
func Locales() []string {
	return []string{LocaleEnglish, LocaleChinese}
}

// New returns a generator for locale drawing from rng.
func New(locale string, rng *rand.Rand) (Generator, error) {
	if rng == nil {
		return nil, fmt.Errorf("textgen: nil random source")
	}
	switch strings.ToLower(locale) {
	case "", LocaleEnglish:
		return &securityText{rng: rng}, nil
	case LocaleChinese:
		return &chineseText{rng: rng}, nil
	default:
		return nil, fmt.Errorf("textgen: unsupported locale %q (supported: %s)", locale, strings.Join(Locales(), ", "))
	}
}

func pick(rng *rand.Rand, list []string) string {
	return list[rng.Intn(len(list))]
}

func between(rng *rand.Rand, min, max int) int {
	return min + rng.Intn(max-min+1)
}

func ipv4(rng *rand.Rand) string {
	return fmt.Sprintf("%d.%d.%d.%d", between(rng, 1, 223), rng.Intn(256), rng.Intn(256), between(rng, 1, 254))
}

func hexString(rng *rand.Rand, n int) string {
	const digits = "0123456789abcdef"
	b := make([]byte, n)
	for i := range b {
		b[i] = digits[rng.Intn(len(digits))]
	}
	return string(b)
}
