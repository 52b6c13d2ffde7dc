package worker

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a worker. States only move forward.
type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrInvalidTransition is returned when a lifecycle step runs out of order.
var ErrInvalidTransition = errors.New("invalid worker state transition")

var transitions = map[State][]State{
	StateParsed:     {StateInstalling, StateRedundant},
	StateInstalling: {StateInstalled, StateRedundant},
	StateInstalled:  {StateActivating, StateRedundant},
	StateActivating: {StateActivated, StateRedundant},
	StateActivated:  {StateRedundant},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
