// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package linkstate turns raw transport signals into the connectivity state
// of one link.
package linkstate

import (
	"errors"
	"fmt"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

type State string

const (
	StateNotStarted           State = "not_started"
	StateConnecting           State = "connecting"
	StateAwaitingSetupAndPeer State = "awaiting_setup_and_peer"
	StateAwaitingSetup        State = "awaiting_setup"
	StateAwaitingPeer         State = "awaiting_peer"
	StateActive               State = "active"
	StateStopped              State = "stopped"
)

// States lists every state in table order.
var States = []State{
	StateNotStarted,
	StateConnecting,
	StateAwaitingSetupAndPeer,
	StateAwaitingSetup,
	StateAwaitingPeer,
	StateActive,
	StateStopped,
}

type InputKind string

const (
	InputStartCalled       InputKind = "start_called"
	InputStopCalled        InputKind = "stop_called"
	InputMQTTConnected     InputKind = "mqtt_connected"
	InputMQTTConnectFailed InputKind = "mqtt_connect_failed"
	InputMQTTDisconnected  InputKind = "mqtt_disconnected"
	InputMQTTSuback        InputKind = "mqtt_suback"
	InputMessageFromPeer   InputKind = "message_from_peer"
	InputResponseTimeout   InputKind = "response_timeout"
)

var InputKinds = []InputKind{
	InputStartCalled,
	InputStopCalled,
	InputMQTTConnected,
	InputMQTTConnectFailed,
	InputMQTTDisconnected,
	InputMQTTSuback,
	InputMessageFromPeer,
	InputResponseTimeout,
}

// Input is one signal for the machine. Subscriptions is read for
// mqtt_connected and Remaining, the number of subscriptions still
// unacknowledged, for mqtt_suback.
type Input struct {
	Kind          InputKind
	Subscriptions int
	Remaining     int
}

func (i Input) String() string {
	switch i.Kind {
	case InputMQTTConnected:
		return fmt.Sprintf("%s(%d)", i.Kind, i.Subscriptions)
	case InputMQTTSuback:
		return fmt.Sprintf("%s(%d)", i.Kind, i.Remaining)
	}
	return string(i.Kind)
}

func Start() Input               { return Input{Kind: InputStartCalled} }
func Stop() Input                { return Input{Kind: InputStopCalled} }
func Connected(subs int) Input   { return Input{Kind: InputMQTTConnected, Subscriptions: subs} }
func ConnectFailed() Input       { return Input{Kind: InputMQTTConnectFailed} }
func Disconnected() Input        { return Input{Kind: InputMQTTDisconnected} }
func Suback(remaining int) Input { return Input{Kind: InputMQTTSuback, Remaining: remaining} }
func MessageFromPeer() Input     { return Input{Kind: InputMessageFromPeer} }
func ResponseTimeout() Input     { return Input{Kind: InputResponseTimeout} }

var ErrInvalidTransition = errors.New("invalid transition")

type InvalidTransitionError struct {
	Link  string
	State State
	Input Input
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: link=%s state=%s input=%s", ErrInvalidTransition, e.Link, e.State, e.Input)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Transition records one accepted input.
type Transition struct {
	Link  string
	Input Input
	Old   State
	New   State
}

func ActiveForSend(s State) bool { return s == StateAwaitingPeer || s == StateActive }
func ActiveForRecv(s State) bool { return s == StateActive }

func (t Transition) SendActivated() bool   { return !ActiveForSend(t.Old) && ActiveForSend(t.New) }
func (t Transition) SendDeactivated() bool { return ActiveForSend(t.Old) && !ActiveForSend(t.New) }
func (t Transition) RecvActivated() bool   { return !ActiveForRecv(t.Old) && ActiveForRecv(t.New) }
func (t Transition) RecvDeactivated() bool { return ActiveForRecv(t.Old) && !ActiveForRecv(t.New) }

// CommEvents lists the connectivity milestones reached by t.
func (t Transition) CommEvents() []core.CommEventKind {
	var out []core.CommEventKind
	switch t.Input.Kind {
	case InputMQTTConnected:
		out = append(out, core.CommConnect)
		if t.New == StateAwaitingPeer {
			out = append(out, core.CommSubscribed)
		}
	case InputMQTTSuback:
		if t.Old != t.New {
			out = append(out, core.CommSubscribed)
		}
	case InputMQTTDisconnected:
		out = append(out, core.CommDisconnect)
	}
	if t.RecvActivated() {
		out = append(out, core.CommPeerActive)
	}
	return out
}

// Machine is the connectivity state of one link. It is not safe for
// concurrent use; the link's event loop owns it.
type Machine struct {
	link        string
	state       State
	pendingSubs int
	timeouts    int
}

func New(link string) *Machine {
	return &Machine{link: link, state: StateNotStarted}
}

func (m *Machine) Link() string              { return m.link }
func (m *Machine) State() State              { return m.state }
func (m *Machine) PendingSubscriptions() int { return m.pendingSubs }
func (m *Machine) Timeouts() int             { return m.timeouts }
func (m *Machine) ActiveForSend() bool       { return ActiveForSend(m.state) }
func (m *Machine) ActiveForRecv() bool       { return ActiveForRecv(m.state) }
func (m *Machine) Active() bool              { return m.ActiveForRecv() }

// Apply feeds one input to the machine. An input the current state does not
// accept returns an *InvalidTransitionError and leaves the machine unchanged.
func (m *Machine) Apply(in Input) (Transition, error) {
	next, ok := m.next(in)
	if !ok {
		return Transition{}, &InvalidTransitionError{Link: m.link, State: m.state, Input: in}
	}

	switch in.Kind {
	case InputMQTTConnected:
		m.pendingSubs = in.Subscriptions
	case InputMQTTSuback:
		m.pendingSubs = in.Remaining
	case InputResponseTimeout:
		m.timeouts++
	}
	t := Transition{Link: m.link, Input: in, Old: m.state, New: next}
	m.state = next
	return t, nil
}

func (m *Machine) next(in Input) (State, bool) {
	if in.Kind == InputStopCalled {
		// Accepted everywhere; stopped is terminal.
		return StateStopped, true
	}

	switch m.state {
	case StateNotStarted:
		if in.Kind == InputStartCalled {
			return StateConnecting, true
		}
	case StateConnecting:
		switch in.Kind {
		case InputMQTTConnected:
			if in.Subscriptions < 0 {
				return "", false
			}
			if in.Subscriptions == 0 {
				return StateAwaitingPeer, true
			}
			return StateAwaitingSetupAndPeer, true
		case InputMQTTConnectFailed:
			return StateConnecting, true
		}
	case StateAwaitingSetupAndPeer:
		switch in.Kind {
		case InputMQTTSuback:
			return m.afterSuback(in, StateAwaitingSetupAndPeer, StateAwaitingPeer)
		case InputMessageFromPeer:
			return StateAwaitingSetup, true
		case InputMQTTDisconnected:
			return StateConnecting, true
		}
	case StateAwaitingSetup:
		switch in.Kind {
		case InputMQTTSuback:
			return m.afterSuback(in, StateAwaitingSetup, StateActive)
		case InputMessageFromPeer:
			return StateAwaitingSetup, true
		case InputMQTTDisconnected:
			return StateConnecting, true
		}
	case StateAwaitingPeer:
		switch in.Kind {
		case InputMessageFromPeer:
			return StateActive, true
		case InputResponseTimeout:
			return StateAwaitingPeer, true
		case InputMQTTDisconnected:
			return StateConnecting, true
		}
	case StateActive:
		switch in.Kind {
		case InputMessageFromPeer:
			return StateActive, true
		case InputResponseTimeout:
			return StateAwaitingPeer, true
		case InputMQTTDisconnected:
			return StateConnecting, true
		}
	}
	return "", false
}

// afterSuback picks the state after a suback. The pending count may only
// shrink or stay put.
func (m *Machine) afterSuback(in Input, waiting, done State) (State, bool) {
	if in.Remaining < 0 || in.Remaining > m.pendingSubs {
		return "", false
	}
	if in.Remaining > 0 {
		return waiting, true
	}
	return done, true
}
