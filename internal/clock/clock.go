package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall-clock time so time-dependent logic can be tested.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func New() Clock { return realClock{} }

var Module = fx.Module("clock",
	fx.Provide(New),
)
