package random

import (
	"regexp"
	"testing"
)

var sixDigits = regexp.MustCompile(`^\d{6}$`)

func TestNumericCodeFormat(t *testing.T) {
	var gen NumericCode
	for i := 0; i < 200; i++ {
		if code := gen.NewCode(); !sixDigits.MatchString(code) {
			t.Fatalf("ожидали 6 цифр, получили %q", code)
		}
	}
}

func TestUUIDUnique(t *testing.T) {
	var gen UUID
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := gen.NewID()
		if _, ok := seen[id]; ok {
			t.Fatalf("повтор идентификатора %s", id)
		}
		seen[id] = struct{}{}
	}
}
