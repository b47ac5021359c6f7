package random

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"liuyan-board/internal/domain"
)

// UUID выдаёт идентификаторы и токены сессий на основе UUIDv4 (crypto/rand).
type UUID struct{}

var _ domain.IDGenerator = UUID{}

// NewID реализует domain.IDGenerator.
func (UUID) NewID() string { return uuid.NewString() }

// NumericCode выдаёт шестизначные коды, ведущие нули допускаются.
type NumericCode struct{}

var _ domain.CodeGenerator = NumericCode{}

// NewCode реализует domain.CodeGenerator.
func (NumericCode) NewCode() string {
	return fmt.Sprintf("%06d", rand.IntN(1_000_000))
}
