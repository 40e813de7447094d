package websocket

import (
	"time"

	"go.uber.org/zap"
)

// SessionCleanupService closes sessions that have gone quiet. A session is
// idle when no audio or control message arrived within the idle timeout.
type SessionCleanupService struct {
	hub         *Hub
	idleTimeout time.Duration
	interval    time.Duration
	now         func() time.Time
	logger      *zap.Logger
	stopChan    chan struct{}
}

// NewSessionCleanupService creates a new session cleanup service. The hub
// is swept every half idle timeout.
func NewSessionCleanupService(hub *Hub, idleTimeout time.Duration, logger *zap.Logger) *SessionCleanupService {
	return &SessionCleanupService{
		hub:         hub,
		idleTimeout: idleTimeout,
		interval:    idleTimeout / 2,
		now:         time.Now,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// Start begins the background cleanup process. A zero idle timeout
// disables it.
func (s *SessionCleanupService) Start() {
	if s.idleTimeout <= 0 {
		s.logger.Info("Session cleanup disabled")
		return
	}
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started", zap.Duration("idleTimeout", s.idleTimeout))
}

// Stop gracefully stops the cleanup service
func (s *SessionCleanupService) Stop() {
	close(s.stopChan)
	s.logger.Info("Session cleanup service stopped")
}

func (s *SessionCleanupService) cleanupLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// runCleanup closes every idle client and returns how many it closed
func (s *SessionCleanupService) runCleanup() int {
	cutoff := s.now().Add(-s.idleTimeout)

	closed := 0
	for _, client := range s.hub.Clients() {
		lastActive := client.Session().LastActiveAt()
		if lastActive.After(cutoff) {
			continue
		}
		s.logger.Info("Closing idle session",
			zap.String("sessionID", client.Session().ID),
			zap.Time("lastActiveAt", lastActive))
		client.Close()
		closed++
	}

	if closed > 0 {
		s.logger.Info("Session cleanup completed", zap.Int("closed", closed))
	}
	return closed
}
