package uid

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator yields unique message ids.
type Generator interface {
	New() (string, error)
}

type UUIDV7 struct{}

func NewUUIDV7() *UUIDV7 {
	return &UUIDV7{}
}

// New returns a time-ordered UUIDv7, so ids sort in publish order.
func (u *UUIDV7) New() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Sequence yields prefix-1, prefix-2, ...
type Sequence struct {
	prefix string
	n      atomic.Uint64
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) New() (string, error) {
	return s.prefix + "-" + strconv.FormatUint(s.n.Add(1), 10), nil
}
