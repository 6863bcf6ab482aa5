package exception

import "github.com/yanun0323/errors"

// Order gateway and router errors.
var (
	ErrGatewayTransient       = errors.New("gateway: transient failure")
	ErrGatewayFatal           = errors.New("gateway: fatal failure")
	ErrGatewayDisconnected    = errors.New("gateway: disconnected")
	ErrReconciliationMismatch = errors.New("router: reconciliation mismatch")
	ErrUnknownOrder           = errors.New("router: unknown order")
	ErrOrderTerminal          = errors.New("router: order already terminal")
	ErrRouterClosed           = errors.New("router: closed")
)
