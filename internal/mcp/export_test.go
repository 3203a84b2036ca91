package mcpserver

import "time"

// SetApprovalTiming shortens the approval poll loop in tests.
func (s *Server) SetApprovalTiming(timeout, poll time.Duration) {
	s.approval.timeout = timeout
	s.approval.poll = poll
}
