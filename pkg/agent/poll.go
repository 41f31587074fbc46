package agent

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// startLoopLocked starts a polling loop for e's current run.
func (s *Supervisor) startLoopLocked(e *entry) {
	ctx, cancel := context.WithCancel(s.base)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done
	go s.poll(ctx, e, e.gen, e.session.TaskID, e.session.SessionName, done)
}

func (s *Supervisor) poll(ctx context.Context, e *entry, gen int, taskID, name string, done chan struct{}) {
	defer close(done)

	log := s.logger.WithFields(logrus.Fields{"task": taskID, "session": name})
	log.Debug("Polling loop started")
	defer log.Debug("Polling loop stopped")

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if s.tick(ctx, e, gen, taskID, name, log) {
			return
		}
		timer.Reset(s.interval)
	}
}

// tick runs one poll step and reports whether the loop should end.
func (s *Supervisor) tick(ctx context.Context, e *entry, gen int, taskID, name string, log *logrus.Entry) bool {
	output, captureErr := s.capture.Capture(ctx, name)
	var files []string
	complete := false
	if captureErr != nil {
		log.WithError(captureErr).Debug("Capture failed, checking liveness only")
	} else {
		files = s.extractor.Extract(output)
		complete = s.classifier.IsComplete(output)
	}

	alive := true
	if !complete {
		alive = s.launcher.IsAlive(ctx, name)
	}

	if ctx.Err() != nil {
		return true
	}

	s.mu.Lock()
	// A result that lands after cancellation or a restart belongs to a
	// stale run and is dropped.
	if ctx.Err() != nil || s.entries[taskID] != e || e.gen != gen {
		s.mu.Unlock()
		return true
	}
	sess := e.session
	if !sess.Status.Active() {
		s.mu.Unlock()
		return true
	}

	changed := false
	if captureErr == nil && output != sess.Output {
		sess.Output = output
		changed = true
	}
	var added bool
	sess.EditedFiles, added = mergeFiles(sess.EditedFiles, files)
	changed = changed || added

	finished := false
	switch {
	case complete:
		now := s.now()
		sess.Status = StatusCompleted
		sess.Plan = output
		sess.CompletedAt = &now
		s.persistLocked(e, true)
		finished = true
		log.Info("Agent is waiting for approval, marking session completed")

	default:
		if sess.Status == StatusProcessing && len(sess.EditedFiles) > 0 {
			sess.Status = StatusEditing
			log.WithField("files", len(sess.EditedFiles)).Info("Agent started editing files")
		}
		s.persistLocked(e, false)

		if !alive {
			now := s.now()
			if len(sess.EditedFiles) > 0 {
				sess.Status = StatusCompleted
			} else {
				sess.Status = StatusFailed
				sess.LastError = "agent session exited before making changes"
			}
			sess.CompletedAt = &now
			s.persistLocked(e, true)
			finished = true
			log.WithField("status", sess.Status).Info("Agent session exited")
		}
	}

	// The loop's done channel stays registered until poll returns, so a
	// concurrent Stop waits for the final publish below.
	if finished && e.cancel != nil {
		e.cancel()
	}
	if !changed && !finished {
		s.mu.Unlock()
		return false
	}
	snap := sess.clone()
	s.mu.Unlock()

	s.publish(EventSessionUpdated, snap)
	return finished
}
