package fetchq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolve_Dispatch(t *testing.T) {
	next := time.Now().Add(time.Minute)
	cases := []struct {
		res  Resolution
		want call
	}{
		{Reschedule{NextIteration: next, Payload: 1}, call{Op: "reschedule", Next: next, Payload: 1}},
		{&Reschedule{NextIteration: next, Payload: 2}, call{Op: "reschedule", Next: next, Payload: 2}},
		{Reject{Message: "m", Details: "d", RefID: "r1"}, call{Op: "reject", Message: "m", Details: "d", RefID: "r1"}},
		{&Reject{Message: "m"}, call{Op: "reject", Message: "m"}},
		{Kill{Payload: "k"}, call{Op: "kill", Payload: "k"}},
		{&Kill{}, call{Op: "kill"}},
		{Complete{Payload: "c"}, call{Op: "complete", Payload: "c"}},
		{&Complete{Payload: "c"}, call{Op: "complete", Payload: "c"}},
		{Drop{}, call{Op: "drop"}},
		{&Drop{}, call{Op: "drop"}},
	}
	for _, c := range cases {
		t.Run(string(c.res.Action()), func(t *testing.T) {
			s := newMemStore()
			require.NoError(t, resolve(context.Background(), s, "q", &Doc{Subject: "a"}, c.res))
			calls := s.Calls()
			require.Len(t, calls, 1)
			got := calls[0]
			got.At = time.Time{}
			want := c.want
			want.Queue, want.Subject = "q", "a"
			require.Equal(t, want, got)
		})
	}
}

func TestResolve_Unrecognized(t *testing.T) {
	var nilComplete *Complete
	var nilDrop *Drop
	for _, res := range []Resolution{nil, nilComplete, nilDrop, struct{ Kill }{}} {
		s := newMemStore()
		err := resolve(context.Background(), s, "q", &Doc{Subject: "a"}, res)
		require.ErrorIs(t, err, ErrUnrecognizedResolution)
		require.Empty(t, s.Calls())
	}
}

func TestResolve_StoreErrorWrapped(t *testing.T) {
	s := newMemStore()
	boom := errors.New("boom")
	s.fail["complete"] = boom
	err := resolve(context.Background(), s, "q", &Doc{Subject: "a"}, Complete{})
	require.ErrorIs(t, err, boom)
	require.EqualError(t, err, "complete q/a: boom")
	require.NotErrorIs(t, err, ErrUnrecognizedResolution)
}

func TestFaultReject(t *testing.T) {
	r := faultReject(errors.New("smtp down"))
	require.Equal(t, ActionReject, r.Action())
	require.Equal(t, "worker exception", r.Message)
	require.Equal(t, AnyRefID, r.RefID)
	require.Equal(t, ErrorDetails{Message: "smtp down", Err: "smtp down"}, r.Details)
}

func TestChain_Empty(t *testing.T) {
	h := Chain(func(context.Context, *Doc) (Resolution, error) { return Drop{}, nil })
	res, err := h(context.Background(), &Doc{})
	require.NoError(t, err)
	require.Equal(t, ActionDrop, res.Action())
}
