package pods

import "errors"

// ErrNoDevice is returned when a pod needs a device and none was attached.
var ErrNoDevice = errors.New("no scan device attached to the exec context")
