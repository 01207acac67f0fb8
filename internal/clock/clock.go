// Package clock abstracts time for components that stamp records or name
// backups, so tests can pin the current instant.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}
