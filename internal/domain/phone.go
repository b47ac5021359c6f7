package domain

import "strings"

// MaskPhone оставляет первые 3 и последние 4 цифры, середину заменяет звёздочками.
func MaskPhone(phone string) string {
	runes := []rune(phone)
	if len(runes) <= 7 {
		return phone
	}
	return string(runes[:3]) + strings.Repeat("*", len(runes)-7) + string(runes[len(runes)-4:])
}
