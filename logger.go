package authz

import "github.com/quartzboard/authz/logger"

// Logger re-exports the structured logging contract so callers configuring
// an Engine don't need the subpackage import.
type Logger = logger.Logger
