// Package obs wires structured logging and Prometheus metrics, the two
// ambient observability concerns every component threads through.
package obs

import "go.uber.org/zap"

// NewLogger builds the process logger. verbose selects development mode
// (console encoder, debug level); otherwise production JSON logging.
func NewLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
