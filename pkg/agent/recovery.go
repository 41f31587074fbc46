package agent

import (
	"context"
	"strings"

	"github.com/grovetools/taskagent/errors"
	"github.com/sirupsen/logrus"
)

// RecoveryReport lists what happened to each unfinished record.
type RecoveryReport struct {
	Resumed   []string `json:"resumed"`
	Completed []string `json:"completed"`
	Failed    []string `json:"failed"`
	Skipped   []string `json:"skipped"`
	Orphans   []string `json:"orphans,omitempty"`
}

// Recovery reconciles persisted sessions with the processes that are still
// running after a restart.
type Recovery struct {
	sup *Supervisor
}

func NewRecovery(sup *Supervisor) *Recovery {
	return &Recovery{sup: sup}
}

// RestoreFromPersistence runs recovery once per Supervisor. Later calls
// return the first result.
func (s *Supervisor) RestoreFromPersistence(ctx context.Context) (RecoveryReport, error) {
	s.restoreOnce.Do(func() {
		s.restoreReport, s.restoreErr = NewRecovery(s).Run(ctx)
	})
	return s.restoreReport, s.restoreErr
}

// Run loads unfinished records. Sessions whose process is alive are resumed
// with a new polling loop; dead ones are closed out as completed when they
// had edited files and failed otherwise.
func (r *Recovery) Run(ctx context.Context) (RecoveryReport, error) {
	s := r.sup
	var report RecoveryReport

	records, err := s.gateway.ListUnfinished(ctx)
	if err != nil {
		failure := errors.PersistenceFailure("*", err)
		s.logger.WithError(failure).Error("Failed to load persisted sessions")
		return report, failure
	}

	for _, rec := range records {
		log := s.logger.WithFields(logrus.Fields{"task": rec.TaskID, "session": rec.SessionName})
		if rec.SessionName == "" || !Status(rec.Status).Valid() {
			log.WithField("status", rec.Status).Warn("Skipping unrecoverable session record")
			report.Skipped = append(report.Skipped, rec.TaskID)
			continue
		}

		unlock := s.lockTask(rec.TaskID)
		outcome := r.restore(ctx, SessionFromRecord(rec), log)
		unlock()

		switch outcome {
		case StatusProcessing, StatusEditing:
			report.Resumed = append(report.Resumed, rec.TaskID)
		case StatusCompleted:
			report.Completed = append(report.Completed, rec.TaskID)
		case StatusFailed:
			report.Failed = append(report.Failed, rec.TaskID)
		default:
			report.Skipped = append(report.Skipped, rec.TaskID)
		}
	}

	report.Orphans = r.orphans(ctx)
	s.logger.WithFields(logrus.Fields{
		"resumed":   len(report.Resumed),
		"completed": len(report.Completed),
		"failed":    len(report.Failed),
		"skipped":   len(report.Skipped),
	}).Info("Restored sessions from persistence")
	return report, nil
}

// restore registers sess and returns its resulting status, or "" when the
// task already has a session.
func (r *Recovery) restore(ctx context.Context, sess *Session, log *logrus.Entry) Status {
	s := r.sup
	alive := s.launcher.IsAlive(ctx, sess.SessionName)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ""
	}
	if _, exists := s.entries[sess.TaskID]; exists {
		s.mu.Unlock()
		log.Debug("Session already registered, skipping")
		return ""
	}

	e := &entry{
		session:                sess,
		lastPersistedStatus:    sess.Status,
		lastPersistedFileCount: len(sess.EditedFiles),
	}
	s.entries[sess.TaskID] = e

	if alive {
		if sess.Status == StatusPending {
			sess.Status = StatusProcessing
			s.persistLocked(e, true)
		}
		s.startLoopLocked(e)
		log.WithField("status", sess.Status).Info("Resumed supervision of running agent")
	} else {
		if len(sess.EditedFiles) > 0 {
			sess.Status = StatusCompleted
		} else {
			sess.Status = StatusFailed
			sess.LastError = "agent session was not running after restart"
		}
		if sess.CompletedAt == nil {
			now := s.now()
			sess.CompletedAt = &now
		}
		s.persistLocked(e, true)
		log.WithField("status", sess.Status).Info("Closed out agent that exited while unsupervised")
	}
	status := sess.Status
	snap := sess.clone()
	s.mu.Unlock()

	s.publish(EventSessionUpdated, snap)
	return status
}

// orphans reports sessions carrying the managed prefix that no task owns.
// They are logged, never killed.
func (r *Recovery) orphans(ctx context.Context) []string {
	s := r.sup
	lister, ok := s.launcher.(SessionLister)
	if !ok {
		return nil
	}
	names, err := lister.ListSessions(ctx)
	if err != nil {
		s.logger.WithError(err).Debug("Could not list sessions for orphan check")
		return nil
	}

	owned := make(map[string]struct{})
	s.mu.RLock()
	for _, e := range s.entries {
		owned[e.session.SessionName] = struct{}{}
	}
	s.mu.RUnlock()

	var orphans []string
	for _, name := range names {
		if !strings.HasPrefix(name, s.prefix) {
			continue
		}
		if _, ok := owned[name]; !ok {
			orphans = append(orphans, name)
		}
	}
	if len(orphans) > 0 {
		s.logger.WithField("sessions", orphans).Warn("Found agent sessions with no persisted task")
	}
	return orphans
}
