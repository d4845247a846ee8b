package input

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ThomasT75/uinput"
	evdev "github.com/gvalkov/golang-evdev"
	"go.uber.org/multierr"
)

// ErrInvalidStep is returned for injection steps that cannot be parsed.
var ErrInvalidStep = errors.New("invalid injection step")

// StepKind is one virtual input operation.
type StepKind int

const (
	StepMove StepKind = iota + 1
	StepButton
	StepScroll
	StepKey
	StepSleep
)

// Step is one line of an injection script:
//
//	move DX DY
//	click|press|release left|right|middle
//	scroll DX DY
//	key|keydown|keyup KEY_A|30
//	sleep 50ms
type Step struct {
	Kind    StepKind
	DX, DY  int32
	Button  string
	Code    int
	Press   bool
	Release bool
	Delay   time.Duration
}

var keyCodes = func() map[string]int {
	m := make(map[string]int, len(evdev.KEY))
	for code, name := range evdev.KEY {
		m[name] = code
	}
	return m
}()

// ParseStep parses one script line.
func ParseStep(line string) (Step, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return Step{}, fmt.Errorf("%w: empty", ErrInvalidStep)
	}
	bad := func(format string, args ...any) (Step, error) {
		return Step{}, fmt.Errorf("%w: %q: %s", ErrInvalidStep, line, fmt.Sprintf(format, args...))
	}

	switch f[0] {
	case "move", "scroll":
		if len(f) != 3 {
			return bad("want %s DX DY", f[0])
		}
		dx, err1 := strconv.ParseInt(f[1], 10, 32)
		dy, err2 := strconv.ParseInt(f[2], 10, 32)
		if err1 != nil || err2 != nil {
			return bad("offsets must be integers")
		}
		kind := StepMove
		if f[0] == "scroll" {
			kind = StepScroll
		}
		return Step{Kind: kind, DX: int32(dx), DY: int32(dy)}, nil

	case "click", "press", "release":
		if len(f) != 2 {
			return bad("want %s BUTTON", f[0])
		}
		switch f[1] {
		case "left", "right", "middle":
		default:
			return bad("unknown button %s", f[1])
		}
		return Step{Kind: StepButton, Button: f[1], Press: f[0] != "release", Release: f[0] != "press"}, nil

	case "key", "keydown", "keyup":
		if len(f) != 2 {
			return bad("want %s KEY", f[0])
		}
		code, ok := keyCodes[strings.ToUpper(f[1])]
		if !ok {
			n, err := strconv.Atoi(f[1])
			if err != nil || n <= 0 {
				return bad("unknown key %s", f[1])
			}
			code = n
		}
		return Step{Kind: StepKey, Code: code, Press: f[0] != "keyup", Release: f[0] != "keydown"}, nil

	case "sleep":
		if len(f) != 2 {
			return bad("want sleep DURATION")
		}
		d, err := time.ParseDuration(f[1])
		if err != nil || d < 0 {
			return bad("bad duration %s", f[1])
		}
		return Step{Kind: StepSleep, Delay: d}, nil
	}
	return bad("unknown operation %s", f[0])
}

// ParseScript parses newline or semicolon separated steps. Blank lines and
// lines starting with # are skipped.
func ParseScript(script string) ([]Step, error) {
	var steps []Step
	for _, line := range strings.FieldsFunc(script, func(r rune) bool { return r == '\n' || r == ';' }) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s, err := ParseStep(line)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

type virtualMouse interface {
	Move(x, y int32) error
	LeftPress() error
	LeftRelease() error
	RightPress() error
	RightRelease() error
	MiddlePress() error
	MiddleRelease() error
	Wheel(horizontal bool, delta int32) error
	Close() error
}

type virtualKeyboard interface {
	KeyDown(key int) error
	KeyUp(key int) error
	Close() error
}

// Injector drives a virtual mouse and keyboard through /dev/uinput. The
// devices show up to the native backend like real hardware.
type Injector struct {
	mouse    virtualMouse
	keyboard virtualKeyboard
}

// NewInjector creates both virtual devices on the uinput node at path.
func NewInjector(path, name string) (*Injector, error) {
	mouse, err := uinput.CreateMouse(path, []byte(name+" pointer"))
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual mouse: %w", err)
	}
	keyboard, err := uinput.CreateKeyboard(path, []byte(name+" keyboard"))
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create virtual keyboard: %w", err), mouse.Close())
	}
	return &Injector{mouse: mouse, keyboard: keyboard}, nil
}

// Run executes steps in order, stopping early when ctx is done.
func (in *Injector) Run(ctx context.Context, steps []Step) error {
	for i, s := range steps {
		if err := in.step(ctx, s); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func (in *Injector) step(ctx context.Context, s Step) error {
	switch s.Kind {
	case StepMove:
		if s.DX == 0 && s.DY == 0 {
			return nil
		}
		return in.mouse.Move(s.DX, s.DY)

	case StepScroll:
		var err error
		if s.DY != 0 {
			// Wheel up is positive, scroll down is positive here.
			err = multierr.Append(err, in.mouse.Wheel(false, -s.DY))
		}
		if s.DX != 0 {
			err = multierr.Append(err, in.mouse.Wheel(true, s.DX))
		}
		return err

	case StepButton:
		press, release := in.buttonOps(s.Button)
		if s.Press {
			if err := press(); err != nil {
				return err
			}
		}
		if s.Release {
			return release()
		}
		return nil

	case StepKey:
		if s.Press {
			if err := in.keyboard.KeyDown(s.Code); err != nil {
				return err
			}
		}
		if s.Release {
			return in.keyboard.KeyUp(s.Code)
		}
		return nil

	case StepSleep:
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: kind %d", ErrInvalidStep, s.Kind)
}

func (in *Injector) buttonOps(button string) (press, release func() error) {
	switch button {
	case "right":
		return in.mouse.RightPress, in.mouse.RightRelease
	case "middle":
		return in.mouse.MiddlePress, in.mouse.MiddleRelease
	default:
		return in.mouse.LeftPress, in.mouse.LeftRelease
	}
}

// Close destroys the virtual devices.
func (in *Injector) Close() error {
	return multierr.Append(in.mouse.Close(), in.keyboard.Close())
}
