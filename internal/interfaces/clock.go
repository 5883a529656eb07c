package interfaces

import "time"

// Clock abstracts time for services and storage so tests can control the
// passage of time when exercising purge windows and staleness rules.
type Clock interface {
	Now() time.Time
}
