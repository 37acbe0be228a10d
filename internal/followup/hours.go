package followup

import (
	"time"

	"github.com/sablelabs/sable/internal/config"
)

// WithinBusinessHours reports whether now falls inside the configured
// local daily send window.
func (scheduler *Scheduler) WithinBusinessHours(now time.Time) bool {
	local := now.In(scheduler.Location)

	return local.Hour() >= config.Conf.BusinessHoursOpen && local.Hour() < config.Conf.BusinessHoursClose
}

// UntilOpen returns the delay to the next opening boundary. The result is
// never in the past and never below one second, so an item scheduled right
// at the boundary still lands strictly after now.
func (scheduler *Scheduler) UntilOpen(now time.Time) time.Duration {
	local := now.In(scheduler.Location)

	open := time.Date(local.Year(), local.Month(), local.Day(),
		config.Conf.BusinessHoursOpen, 0, 0, 0, scheduler.Location)

	if !local.Before(open) {
		open = open.AddDate(0, 0, 1)
	}

	delay := open.Sub(local)
	if delay < time.Second {
		delay = time.Second
	}

	return delay
}
