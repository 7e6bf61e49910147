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

package linkstate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

// machineIn drives a fresh machine into s through legal inputs.
func machineIn(t *testing.T, s State) *Machine {
	t.Helper()
	paths := map[State][]Input{
		StateNotStarted:           nil,
		StateConnecting:           {Start()},
		StateAwaitingSetupAndPeer: {Start(), Connected(2)},
		StateAwaitingSetup:        {Start(), Connected(2), MessageFromPeer()},
		StateAwaitingPeer:         {Start(), Connected(1), Suback(0)},
		StateActive:               {Start(), Connected(1), Suback(0), MessageFromPeer()},
		StateStopped:              {Stop()},
	}
	m := New("atn")
	for _, in := range paths[s] {
		_, err := m.Apply(in)
		require.NoError(t, err)
	}
	require.Equal(t, s, m.State())
	return m
}

func sampleInput(k InputKind) Input {
	switch k {
	case InputMQTTConnected:
		return Connected(2)
	case InputMQTTSuback:
		return Suback(0)
	}
	return Input{Kind: k}
}

type legal struct {
	from State
	in   Input
	to   State
}

var table = []legal{
	{StateNotStarted, Start(), StateConnecting},
	{StateNotStarted, Stop(), StateStopped},
	{StateConnecting, Connected(2), StateAwaitingSetupAndPeer},
	{StateConnecting, ConnectFailed(), StateConnecting},
	{StateConnecting, Stop(), StateStopped},
	{StateAwaitingSetupAndPeer, Suback(1), StateAwaitingSetupAndPeer},
	{StateAwaitingSetupAndPeer, Suback(0), StateAwaitingPeer},
	{StateAwaitingSetupAndPeer, MessageFromPeer(), StateAwaitingSetup},
	{StateAwaitingSetupAndPeer, Disconnected(), StateConnecting},
	{StateAwaitingSetupAndPeer, Stop(), StateStopped},
	{StateAwaitingSetup, Suback(1), StateAwaitingSetup},
	{StateAwaitingSetup, Suback(0), StateActive},
	{StateAwaitingSetup, MessageFromPeer(), StateAwaitingSetup},
	{StateAwaitingSetup, Disconnected(), StateConnecting},
	{StateAwaitingSetup, Stop(), StateStopped},
	{StateAwaitingPeer, MessageFromPeer(), StateActive},
	{StateAwaitingPeer, ResponseTimeout(), StateAwaitingPeer},
	{StateAwaitingPeer, Disconnected(), StateConnecting},
	{StateAwaitingPeer, Stop(), StateStopped},
	{StateActive, MessageFromPeer(), StateActive},
	{StateActive, ResponseTimeout(), StateAwaitingPeer},
	{StateActive, Disconnected(), StateConnecting},
	{StateActive, Stop(), StateStopped},
	{StateStopped, Stop(), StateStopped},
}

func TestLegalTransitions(t *testing.T) {
	for _, tt := range table {
		t.Run(string(tt.from)+"/"+tt.in.String(), func(t *testing.T) {
			m := machineIn(t, tt.from)
			tr, err := m.Apply(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.from, tr.Old)
			assert.Equal(t, tt.to, tr.New)
			assert.Equal(t, tt.to, m.State())
			assert.Equal(t, "atn", tr.Link)
			assert.Equal(t, tt.in, tr.Input)
		})
	}
}

func TestUnlistedPairsAreRejected(t *testing.T) {
	listed := make(map[State]map[InputKind]bool)
	for _, tt := range table {
		if listed[tt.from] == nil {
			listed[tt.from] = make(map[InputKind]bool)
		}
		listed[tt.from][tt.in.Kind] = true
	}

	for _, s := range States {
		for _, k := range InputKinds {
			if listed[s][k] {
				continue
			}
			t.Run(string(s)+"/"+string(k), func(t *testing.T) {
				m := machineIn(t, s)
				pending := m.PendingSubscriptions()
				_, err := m.Apply(sampleInput(k))
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))

				var ite *InvalidTransitionError
				require.ErrorAs(t, err, &ite)
				assert.Equal(t, s, ite.State)
				assert.Equal(t, "atn", ite.Link)
				assert.Equal(t, s, m.State())
				assert.Equal(t, pending, m.PendingSubscriptions())
			})
		}
	}
}

func TestPredicates(t *testing.T) {
	for _, s := range States {
		m := machineIn(t, s)
		if m.Active() {
			assert.True(t, m.ActiveForSend(), s)
			assert.True(t, m.ActiveForRecv(), s)
		}
		if m.ActiveForRecv() {
			assert.True(t, m.ActiveForSend(), s)
		}
	}
	assert.True(t, ActiveForSend(StateAwaitingPeer))
	assert.False(t, ActiveForRecv(StateAwaitingPeer))
	assert.False(t, ActiveForSend(StateAwaitingSetup))
}

func TestSubscriptionCountdownScenario(t *testing.T) {
	m := New("atn")
	steps := []struct {
		in   Input
		want State
	}{
		{Start(), StateConnecting},
		{Connected(2), StateAwaitingSetupAndPeer},
		{Suback(1), StateAwaitingSetupAndPeer},
		{Suback(0), StateAwaitingPeer},
		{MessageFromPeer(), StateActive},
	}
	for _, step := range steps {
		_, err := m.Apply(step.in)
		require.NoError(t, err, step.in.String())
		assert.Equal(t, step.want, m.State(), step.in.String())
	}
	assert.Zero(t, m.PendingSubscriptions())
}

func TestSubackCannotIncreaseCount(t *testing.T) {
	m := machineIn(t, StateAwaitingSetupAndPeer)
	_, err := m.Apply(Suback(1))
	require.NoError(t, err)

	_, err = m.Apply(Suback(2))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 1, m.PendingSubscriptions())
	assert.Equal(t, StateAwaitingSetupAndPeer, m.State())
}

func TestConnectedWithoutSubscriptions(t *testing.T) {
	m := machineIn(t, StateConnecting)
	tr, err := m.Apply(Connected(0))
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPeer, tr.New)
	assert.Equal(t, []core.CommEventKind{core.CommConnect, core.CommSubscribed}, tr.CommEvents())
}

func TestTimeoutsCounted(t *testing.T) {
	m := machineIn(t, StateActive)
	_, err := m.Apply(ResponseTimeout())
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPeer, m.State())
	_, err = m.Apply(ResponseTimeout())
	require.NoError(t, err)
	assert.Equal(t, 2, m.Timeouts())
}

func TestTransitionHelpers(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		in    Input
		comm  []core.CommEventKind
		sendA bool
		sendD bool
		recvA bool
		recvD bool
	}{
		{"connect", StateConnecting, Connected(2), []core.CommEventKind{core.CommConnect}, false, false, false, false},
		{"subscribed", StateAwaitingSetupAndPeer, Suback(0), []core.CommEventKind{core.CommSubscribed}, true, false, false, false},
		{"subscribed after peer", StateAwaitingSetup, Suback(0), []core.CommEventKind{core.CommSubscribed, core.CommPeerActive}, true, false, true, false},
		{"peer active", StateAwaitingPeer, MessageFromPeer(), []core.CommEventKind{core.CommPeerActive}, false, false, true, false},
		{"demoted", StateActive, ResponseTimeout(), nil, false, false, false, true},
		{"disconnect", StateActive, Disconnected(), []core.CommEventKind{core.CommDisconnect}, false, true, false, true},
		{"stop", StateAwaitingPeer, Stop(), nil, false, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := machineIn(t, tt.from).Apply(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.comm, tr.CommEvents())
			assert.Equal(t, tt.sendA, tr.SendActivated())
			assert.Equal(t, tt.sendD, tr.SendDeactivated())
			assert.Equal(t, tt.recvA, tr.RecvActivated())
			assert.Equal(t, tt.recvD, tr.RecvDeactivated())
		})
	}
}
