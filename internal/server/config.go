package server

import (
	"github.com/autopeer-io/skypeer/pkg/options"
)

// Config selects the control endpoints to serve. A nil group is not served.
type Config struct {
	HttpOptions *options.HttpOptions
	GrpcOptions *options.GrpcOptions
}
