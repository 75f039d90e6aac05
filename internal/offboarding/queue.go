package offboarding

// submissionQueue is the FIFO of ratings the customer asked to submit. It is
// guarded by the Engine mutex. Entries are only removed once the server has
// confirmed them.
type submissionQueue struct {
	entries []PendingRating
}

func (q *submissionQueue) push(p PendingRating) {
	q.entries = append(q.entries, p)
}

func (q *submissionQueue) peek() (PendingRating, bool) {
	if len(q.entries) == 0 {
		return PendingRating{}, false
	}
	return q.entries[0], true
}

func (q *submissionQueue) pop() {
	q.entries[0] = PendingRating{}
	q.entries = q.entries[1:]
}

func (q *submissionQueue) len() int {
	return len(q.entries)
}

func (q *submissionQueue) items() []PendingRating {
	out := make([]PendingRating, len(q.entries))
	copy(out, q.entries)
	return out
}

// submit records the customer's choice and sends it, or leaves it queued
// behind the submission already in flight. Earlier entries are not dropped.
func (e *Engine) submit(score Score, comment *string) {
	e.mu.Lock()
	e.queue.push(PendingRating{Score: score, Comment: comment})
	e.uiScore = score
	e.uiComment = comment
	dispatch := e.processNextLocked()
	e.mu.Unlock()

	if dispatch != nil {
		dispatch()
	}
}

// processNextLocked takes the single in-flight slot for the head of the queue
// and returns the command to send once the lock is released. It returns nil
// when the queue is empty or a submission is already outstanding.
//
// The head stays in the queue until OnRatingUpdated confirms it, so a failed
// submission is sent again with the same score and comment.
func (e *Engine) processNextLocked() func() {
	if e.inFlight != nil {
		return nil
	}
	head, ok := e.queue.peek()
	if !ok {
		return nil
	}
	e.inFlight = &head

	if e.latest == nil {
		return func() { e.cb.AddRating(head.Score, head.Comment) }
	}
	id := e.latest.ID
	if head.Comment == nil {
		return func() { e.cb.UpdateRating(id, head.Score) }
	}
	comment := *head.Comment
	return func() { e.cb.UpdateFeedback(id, head.Score, comment) }
}

// OnRatingUpdated is called when the in-flight submission was accepted by the
// server. rating is the confirmed record and becomes the latest rating, so
// anything still queued is sent as an update of it.
func (e *Engine) OnRatingUpdated(rating Rating) {
	e.mu.Lock()
	expected := PendingRating{Score: rating.Score, Comment: rating.Comment}
	if e.inFlight != nil {
		expected = *e.inFlight
	}
	if head, ok := e.queue.peek(); !ok || !head.Equal(expected) {
		e.log.Error().
			Str("expected", expected.String()).
			Bool("queue_empty", !ok).
			Str("head", head.String()).
			Msg("confirmed rating does not match the head of the submission queue")
	} else {
		e.queue.pop()
	}
	e.inFlight = nil
	e.confirmations++

	r := rating
	e.latest = &r
	e.ratingsLoaded = true
	e.ratingsRequested = false

	dispatch := e.processNextLocked()
	e.mu.Unlock()

	if dispatch != nil {
		dispatch()
	}
	e.cb.RefreshListView(true)
}

// OnRatingUpdateFailed is called when the in-flight submission failed. The
// queue is left as is and its head is sent again straight away; pacing
// repeated failures is up to the transport.
func (e *Engine) OnRatingUpdateFailed(score Score, comment *string) {
	failed := PendingRating{Score: score, Comment: comment}

	e.mu.Lock()
	switch {
	case e.inFlight == nil:
		e.log.Warn().Str("failed", failed.String()).Msg("submission failure reported with nothing in flight")
	case !e.inFlight.Equal(failed):
		e.log.Warn().
			Str("failed", failed.String()).
			Str("in_flight", e.inFlight.String()).
			Msg("submission failure does not match the rating in flight")
	default:
		e.log.Debug().Str("failed", failed.String()).Int("queued", e.queue.len()).Msg("submission failed, resending")
	}
	e.inFlight = nil
	dispatch := e.processNextLocked()
	e.mu.Unlock()

	if dispatch != nil {
		dispatch()
	}
}

// Resume sends the head of the queue if nothing is in flight. Hosts call it on
// app events so a backlog drains without waiting for the customer.
func (e *Engine) Resume() {
	e.mu.Lock()
	dispatch := e.processNextLocked()
	e.mu.Unlock()

	if dispatch != nil {
		dispatch()
	}
}

// Pending reports the number of queued submissions and whether one is in flight.
func (e *Engine) Pending() (queued int, inFlight bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.len(), e.inFlight != nil
}
