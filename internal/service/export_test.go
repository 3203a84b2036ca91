package service

import "github.com/jonboulle/clockwork"

// SetClock replaces the clock used for run timestamps and debouncing.
func (s *JobService) SetClock(c clockwork.Clock) { s.clock = c }
