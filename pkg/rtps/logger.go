package rtps

import (
	"github.com/jabolina/go-rtps/pkg/rtps/logging"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

// Logger used by a participant and every entity it creates.
// A client can provide its own implementation.
type Logger = types.Logger

// Creates the logrus backed logger used when the client does not
// provide one.
func NewDefaultLogger() Logger {
	return logging.NewDefaultLogger()
}
