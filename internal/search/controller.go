package search

import (
	"log/slog"

	"github.com/cwbudde/msearch/internal/point"
)

// Step describes one finished iteration.
type Step struct {
	Iteration int
	PrevBest  point.Point
	PrevValue float64
	Best      point.Point
	Value     float64
	StepSize  float64
}

// Controller decides after every iteration whether the search continues.
type Controller interface {
	StepTaken(s Step) bool
}

// ControllerFunc adapts a function to a Controller.
type ControllerFunc func(s Step) bool

func (f ControllerFunc) StepTaken(s Step) bool { return f(s) }

// CompositeController fans every step out to all of its children and
// continues only if all of them agree. No child is ever skipped, so
// controllers with side effects observe every iteration.
type CompositeController struct {
	children []Controller
}

func Composite(children ...Controller) *CompositeController {
	return &CompositeController{children: children}
}

// Add appends a child controller.
func (c *CompositeController) Add(ctl Controller) {
	c.children = append(c.children, ctl)
}

func (c *CompositeController) StepTaken(s Step) bool {
	cont := true
	for _, ctl := range c.children {
		if !ctl.StepTaken(s) {
			cont = false
		}
	}
	return cont
}

// StepLimit stops the search once Max steps have been reported.
type StepLimit struct {
	Max   int
	calls int
}

func MaxSteps(n int) *StepLimit { return &StepLimit{Max: n} }

func (l *StepLimit) StepTaken(Step) bool {
	l.calls++
	return l.calls < l.Max
}

// Calls returns the number of steps observed.
func (l *StepLimit) Calls() int { return l.calls }

// MinStep stops the search once the step size has shrunk below eps.
func MinStep(eps float64) Controller {
	return ControllerFunc(func(s Step) bool {
		return s.StepSize >= eps
	})
}

// LogController logs every step at debug level and never stops the search.
func LogController(l *slog.Logger) Controller {
	if l == nil {
		l = slog.Default()
	}
	return ControllerFunc(func(s Step) bool {
		l.Debug("Optimization step",
			"iteration", s.Iteration,
			"best", s.Best.String(),
			"value", s.Value,
			"improvement", s.PrevValue-s.Value,
			"step", s.StepSize,
		)
		return true
	})
}
