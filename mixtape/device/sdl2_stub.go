//go:build !sdl2

package device

import "fmt"

// SDL2 stub for when SDL2 is not available
type SDL2 struct{}

func NewSDL2() *SDL2 {
	return &SDL2{}
}

func (s *SDL2) Open(cfg Config, cb Callback) error {
	return fmt.Errorf("SDL2 device not available - compile with -tags sdl2 and install SDL2 development libraries")
}

func (s *SDL2) Pause(paused bool) {}

func (s *SDL2) Close() error {
	return nil
}
