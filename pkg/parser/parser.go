// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"context"
	"io"

	"github.com/absmach/dgate/pkg/handler"
)

// Direction indicates the direction of packet flow.
type Direction int

const (
	// Upstream represents packets flowing from client to backend server.
	Upstream Direction = iota

	// Downstream represents packets flowing from backend server to client.
	Downstream
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Upstream:
		return "upstream"
	case Downstream:
		return "downstream"
	default:
		return "unknown"
	}
}

// Parser inspects one protocol stream direction.
//
// Parse reads exactly one packet from r, runs the handler hooks for it and
// writes at most one packet to w. A packet may be dropped by writing nothing
// and returning nil. Returning an error closes the connection; io.EOF marks a
// clean close.
type Parser interface {
	Parse(ctx context.Context, r io.Reader, w io.Writer, dir Direction, h handler.Handler, hctx *handler.Context) error
}
