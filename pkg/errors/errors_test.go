// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package errors_test

import (
	"errors"
	"testing"

	dgerrors "github.com/absmach/dgate/pkg/errors"
)

func TestError(t *testing.T) {
	cases := []struct {
		desc string
		err  *dgerrors.Error
		want string
	}{
		{
			desc: "operation only",
			err:  &dgerrors.Error{Op: "adddevice", Err: dgerrors.ErrMalformedDevice},
			want: "adddevice: malformed device record",
		},
		{
			desc: "channel and client",
			err:  &dgerrors.Error{Op: "route", Channel: "message", ClientID: "dev1", Err: dgerrors.ErrMissingFields},
			want: "route message [dev1]: missing required fields",
		},
		{
			desc: "message id",
			err:  &dgerrors.Error{Op: "dispatch", Channel: "telemetry", ClientID: "dev1", MessageID: 12, Err: dgerrors.ErrEmptyPayload},
			want: "dispatch telemetry [dev1] message 12: empty payload",
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Errorf("Error() = %q, want %q", got, tc.want)
			}
			if !errors.Is(tc.err, tc.err.Err) {
				t.Errorf("expected %v to wrap %v", tc.err, tc.err.Err)
			}
		})
	}
}

func TestNewNil(t *testing.T) {
	if err := dgerrors.New("route", "", "", nil); err != nil {
		t.Errorf("New() = %v, want nil", err)
	}
}
