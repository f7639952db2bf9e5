package session

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/candorworks/exam-proctor/internal/model"
	"github.com/rs/zerolog"
)

// TickInterval is the countdown resolution.
const TickInterval = time.Second

// Submitter records an attempt and reports whether it succeeded.
type Submitter interface {
	SubmitAttempt(ctx context.Context, attemptID string, answers []model.AnswerEntry) error
}

// BestEffortSubmitter hands a submission to a transport that outlives the
// page. The caller never learns the outcome.
type BestEffortSubmitter interface {
	SubmitBestEffort(attemptID string, answers []model.AnswerEntry)
}

// ScratchStore is the single read-once reload-recovery slot per attempt.
type ScratchStore interface {
	Save(ctx context.Context, attemptID string, snap model.ScratchSnapshot) error
	Take(ctx context.Context, attemptID string) (*model.ScratchSnapshot, error)
}

// Closer ends an attempt outside the process so it cannot be reopened.
type Closer interface {
	CloseAttempt(ctx context.Context, attemptID string) error
}

// Emitter delivers events to the page.
type Emitter interface {
	Emit(ev Event)
}

// Report is an operator-facing record of something the candidate may not see.
type Report struct {
	Type      model.AttemptEventType
	AttemptID string
	Reason    Reason
	Err       error
	Answered  int
}

// Reporter makes attempt outcomes observable to operators.
type Reporter interface {
	Report(r Report)
}

// Deps are the collaborators of a Controller. Closer, Reporter and Clock are
// optional.
type Deps struct {
	Submitter  Submitter
	BestEffort BestEffortSubmitter
	Closer     Closer
	Scratch    ScratchStore
	Emitter    Emitter
	Reporter   Reporter
	Clock      Clock
	Log        zerolog.Logger
}

type submitResult struct {
	reason  Reason
	entries []model.AnswerEntry
	err     error
}

// Controller owns one attempt from load to submission. All state except the
// latch is touched only by the goroutine calling Start and Run.
type Controller struct {
	attemptID  string
	submitter  Submitter
	bestEffort BestEffortSubmitter
	closer     Closer
	scratch    ScratchStore
	emitter    Emitter
	reporter   Reporter
	clock      Clock
	log        zerolog.Logger

	latch *Latch

	candidate       model.Candidate
	questions       []model.Question
	durationSeconds int
	remaining       int
	answers         map[int]int
	currentIndex    int
	confirmPending  bool

	ticker   Ticker
	results  chan submitResult
	inflight bool
	unloaded bool
	failure  error
}

// New creates a controller in Loading for attemptID.
func New(attemptID string, deps Deps) *Controller {
	c := &Controller{
		attemptID:  attemptID,
		submitter:  deps.Submitter,
		bestEffort: deps.BestEffort,
		closer:     deps.Closer,
		scratch:    deps.Scratch,
		emitter:    deps.Emitter,
		reporter:   deps.Reporter,
		clock:      deps.Clock,
		log:        deps.Log.With().Str("attempt_id", attemptID).Logger(),
		latch:      NewLatch(),
		answers:    make(map[int]int),
		results:    make(chan submitResult, 1),
	}
	if c.reporter == nil {
		c.reporter = nopReporter{}
	}
	if c.clock == nil {
		c.clock = systemClock{}
	}
	if c.emitter == nil {
		c.emitter = nopEmitter{}
	}
	if c.closer == nil {
		c.closer = nopCloser{}
	}
	return c
}

// Start loads data, then consumes any reload snapshot left for this attempt.
// A snapshot drives the attempt straight into Submitting with ReasonReload.
// A load failure leaves the snapshot in place.
func (c *Controller) Start(ctx context.Context, data *model.TestData) error {
	if !data.Valid() || data.AttemptID != c.attemptID {
		c.failure = &LoadError{AttemptID: c.attemptID, Err: ErrInvalidTestData}
		c.latch.transition(StatusLoading, StatusFailed)
		c.reporter.Report(Report{Type: model.AttemptEventLoadFailed, AttemptID: c.attemptID, Err: c.failure})
		c.emitter.Emit(Event{Type: EventFailed, Message: "Invalid or expired test link."})
		return c.failure
	}

	snap, err := c.scratch.Take(ctx, c.attemptID)
	if err != nil {
		c.storageFailed("take", err)
		snap = nil
	}

	c.candidate = data.Candidate
	c.questions = data.Questions
	c.durationSeconds = data.DurationMinutes * 60
	c.remaining = c.durationSeconds
	c.latch.transition(StatusLoading, StatusInProgress)
	c.reporter.Report(Report{Type: model.AttemptEventStarted, AttemptID: c.attemptID})

	if snap != nil {
		c.restore(snap.Answers)
		c.log.Warn().Int("answered", len(c.answers)).Msg("Reload snapshot found, submitting")
		c.emitter.Emit(Event{
			Type:    EventViolation,
			Reason:  ReasonReload,
			Title:   "Reload Detected",
			Message: "Due to reload, the test will be auto-submitted.",
		})
		c.beginSubmission(ctx, ReasonReload)
		return nil
	}

	c.emitState()
	return nil
}

// Run is the attempt's event loop. It returns once the attempt is terminal,
// the page has unloaded, or ctx is done. A closed command stream is treated
// as an unload.
func (c *Controller) Run(ctx context.Context, cmds <-chan Command) error {
	defer c.stopTicker()

	for !c.finished() {
		if cmds == nil && c.latch.Status() == StatusInProgress {
			// The page went away while a failed manual submit was pending.
			c.handleSignal(ctx, SignalUnload)
			continue
		}
		c.syncTicker()

		var tick <-chan time.Time
		if c.ticker != nil {
			tick = c.ticker.C()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-cmds:
			if !ok {
				cmds = nil
				c.handleSignal(ctx, SignalUnload)
				continue
			}
			c.Handle(ctx, cmd)
		case <-tick:
			c.tick(ctx)
		case res := <-c.results:
			c.finishSubmission(ctx, res)
		}
	}
	return nil
}

// Handle applies one command. Refused inputs become prompt events.
func (c *Controller) Handle(ctx context.Context, cmd Command) {
	var err error
	switch cmd.Kind {
	case CmdSelect:
		err = c.Select(cmd.Option)
	case CmdNext:
		err = c.Next()
	case CmdGoTo:
		err = c.GoTo(cmd.Index)
	case CmdRequestSubmit:
		err = c.RequestSubmit()
	case CmdConfirmSubmit:
		err = c.ConfirmSubmit(ctx)
	case CmdCancelSubmit:
		c.CancelSubmit()
	case CmdSignal:
		c.handleSignal(ctx, cmd.Signal)
	default:
		err = errors.New("unknown command")
	}
	if err != nil {
		c.prompt(err)
	}
}

// Select records optionIndex for the current question, overwriting any
// previous choice.
func (c *Controller) Select(optionIndex int) error {
	if c.latch.Status() != StatusInProgress {
		return ErrNotInProgress
	}
	if optionIndex < 0 || optionIndex >= len(c.questions[c.currentIndex].Options) {
		return ErrOptionOutOfRange
	}
	c.answers[c.currentIndex] = optionIndex
	c.emitState()
	return nil
}

// Next advances one question. It is refused while the current question is
// unanswered and is a no-op on the final question.
func (c *Controller) Next() error {
	if c.latch.Status() != StatusInProgress {
		return ErrNotInProgress
	}
	if _, ok := c.answers[c.currentIndex]; !ok {
		return ErrUnanswered
	}
	if c.currentIndex < len(c.questions)-1 {
		c.currentIndex++
		c.confirmPending = false
	}
	c.emitState()
	return nil
}

// GoTo jumps to index without the must-answer guard. Navigation never goes
// back past the current question.
func (c *Controller) GoTo(index int) error {
	if c.latch.Status() != StatusInProgress {
		return ErrNotInProgress
	}
	if index < 0 || index >= len(c.questions) {
		return ErrQuestionOutOfRange
	}
	if index < c.currentIndex {
		return ErrBackwardNavigation
	}
	if index != c.currentIndex {
		c.confirmPending = false
	}
	c.currentIndex = index
	c.emitState()
	return nil
}

// RequestSubmit asks the candidate to confirm a manual submission.
func (c *Controller) RequestSubmit() error {
	if c.latch.Status() != StatusInProgress {
		return ErrNotInProgress
	}
	if c.currentIndex != len(c.questions)-1 {
		return ErrNotFinalQuestion
	}
	c.confirmPending = true
	c.emitter.Emit(Event{
		Type:    EventPrompt,
		Prompt:  PromptConfirmSubmit,
		Title:   "Are you sure?",
		Message: "You are about to submit your test.",
	})
	return nil
}

// ConfirmSubmit starts the manual submission requested by RequestSubmit.
func (c *Controller) ConfirmSubmit(ctx context.Context) error {
	if !c.confirmPending {
		return ErrNoPendingConfirmation
	}
	c.confirmPending = false
	if !c.beginSubmission(ctx, ReasonManual) {
		return ErrNotInProgress
	}
	return nil
}

// CancelSubmit dismisses a pending confirmation.
func (c *Controller) CancelSubmit() {
	c.confirmPending = false
}

func (c *Controller) handleSignal(ctx context.Context, sig Signal) {
	switch sig {
	case SignalVisibilityHidden:
		c.violation(ctx, ReasonTabSwitch, "Tab Switch Detected", "Due to tab switch, the test will be auto-submitted.")
	case SignalFullscreenExit:
		c.violation(ctx, ReasonFullscreenExit, "Fullscreen Exited", "Due to exiting fullscreen, the test will be auto-submitted.")
	case SignalReloadKey:
		c.violation(ctx, ReasonReload, "Reload Detected", "Due to reload, the test will be auto-submitted.")
	case SignalUnload:
		c.unload(ctx)
	case SignalCopy:
		c.emitter.Emit(Event{Type: EventCopy, Text: CopyPlaceholder})
	default:
		c.log.Debug().Str("signal", string(sig)).Msg("Ignoring unknown signal")
	}
}

func (c *Controller) violation(ctx context.Context, reason Reason, title, message string) {
	if !c.latch.TryBeginSubmission(reason) {
		return
	}
	c.reporter.Report(Report{Type: model.AttemptEventViolation, AttemptID: c.attemptID, Reason: reason, Answered: len(c.answers)})
	c.emitter.Emit(Event{Type: EventViolation, Reason: reason, Title: title, Message: message})
	c.submit(ctx, reason)
}

// unload persists the snapshot before handing the payload to the
// best-effort transport; the normal request path cannot outlive the page.
func (c *Controller) unload(ctx context.Context) {
	if !c.latch.TryBeginSubmission(ReasonReload) {
		return
	}
	c.unloaded = true

	snap := model.ScratchSnapshot{
		Answers:   c.copyAnswers(),
		Timestamp: c.clock.Now().UnixMilli(),
	}
	if err := c.scratch.Save(ctx, c.attemptID, snap); err != nil {
		c.storageFailed("save", err)
	}

	entries := model.BuildAnswerEntries(c.questions, c.answers)
	c.bestEffort.SubmitBestEffort(c.attemptID, entries)
	c.reporter.Report(Report{Type: model.AttemptEventBestEffortSent, AttemptID: c.attemptID, Reason: ReasonReload, Answered: len(entries)})
	c.log.Info().Int("answered", len(entries)).Msg("Page unloaded, best-effort submission queued")
}

func (c *Controller) tick(ctx context.Context) {
	if c.latch.Status() != StatusInProgress {
		return
	}
	if c.remaining > 0 {
		c.remaining--
	}
	remaining := c.remaining
	c.emitter.Emit(Event{Type: EventTick, TimeRemaining: &remaining})
	if c.remaining == 0 {
		c.beginSubmission(ctx, ReasonTimeout)
	}
}

func (c *Controller) beginSubmission(ctx context.Context, reason Reason) bool {
	if !c.latch.TryBeginSubmission(reason) {
		return false
	}
	c.submit(ctx, reason)
	return true
}

// submit freezes the answer set and awaits the submitter off the loop.
func (c *Controller) submit(ctx context.Context, reason Reason) {
	entries := model.BuildAnswerEntries(c.questions, c.answers)
	c.inflight = true
	c.stopTicker()
	c.emitState()

	go func() {
		err := c.submitter.SubmitAttempt(ctx, c.attemptID, entries)
		c.results <- submitResult{reason: reason, entries: entries, err: err}
	}()
}

func (c *Controller) finishSubmission(ctx context.Context, res submitResult) {
	c.inflight = false
	if c.unloaded {
		c.log.Debug().Msg("Submission finished after unload")
	}

	if res.err == nil {
		c.latch.transition(StatusSubmitting, StatusSubmitted)
		c.reporter.Report(Report{Type: model.AttemptEventSubmitted, AttemptID: c.attemptID, Reason: res.reason, Answered: len(c.answers)})
		c.emitter.Emit(Event{Type: EventSubmitted, Reason: res.reason})
		return
	}

	subErr := &SubmissionError{AttemptID: c.attemptID, Reason: res.reason, Err: res.err}
	c.reporter.Report(Report{Type: model.AttemptEventSubmissionFailed, AttemptID: c.attemptID, Reason: res.reason, Err: subErr, Answered: len(c.answers)})

	if !res.reason.Automatic() {
		c.latch.Release()
		c.emitter.Emit(Event{Type: EventSubmitFailed, Message: "Submission Failed. Please try again."})
		c.emitState()
		return
	}

	// Automatic submissions always end on the confirmation screen. The
	// attempt is closed so a reconnect cannot start it over, and the frozen
	// answers go to the best-effort transport for redelivery.
	c.failure = subErr
	c.latch.transition(StatusSubmitting, StatusFailed)
	if err := c.closer.CloseAttempt(ctx, c.attemptID); err != nil {
		c.log.Error().Err(err).Msg("Failed to close attempt after submission failure")
	}
	c.bestEffort.SubmitBestEffort(c.attemptID, res.entries)
	c.reporter.Report(Report{Type: model.AttemptEventBestEffortSent, AttemptID: c.attemptID, Reason: res.reason, Answered: len(res.entries)})
	c.emitter.Emit(Event{Type: EventSubmitted, Reason: res.reason})
}

func (c *Controller) finished() bool {
	if c.inflight {
		return false
	}
	return c.unloaded || c.latch.Status().Terminal()
}

func (c *Controller) syncTicker() {
	active := c.latch.Status() == StatusInProgress
	switch {
	case active && c.ticker == nil:
		c.ticker = c.clock.NewTicker(TickInterval)
	case !active && c.ticker != nil:
		c.stopTicker()
	}
}

func (c *Controller) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *Controller) restore(answers map[int]int) {
	for q, opt := range answers {
		if q < 0 || q >= len(c.questions) {
			continue
		}
		if opt < 0 || opt >= len(c.questions[q].Options) {
			continue
		}
		c.answers[q] = opt
	}
}

func (c *Controller) storageFailed(op string, err error) {
	storageErr := &StorageError{Op: op, AttemptID: c.attemptID, Err: err}
	c.log.Warn().Err(storageErr).Msg("Scratch store unavailable, reload protection degraded")
	c.reporter.Report(Report{Type: model.AttemptEventScratchError, AttemptID: c.attemptID, Err: storageErr})
}

func (c *Controller) prompt(err error) {
	ev := Event{Type: EventPrompt, Message: err.Error()}
	switch {
	case errors.Is(err, ErrUnanswered):
		ev.Prompt = PromptUnanswered
		ev.Title = "Question Unanswered"
		ev.Message = "Please select an answer before proceeding."
	case errors.Is(err, ErrBackwardNavigation):
		ev.Prompt = PromptBackward
		ev.Title = "Navigation Not Allowed"
	case errors.Is(err, ErrNotFinalQuestion):
		ev.Prompt = PromptNotFinal
		ev.Title = "Submit Not Available"
	case errors.Is(err, ErrNotInProgress):
		// Inputs racing a submission are dropped silently.
		return
	default:
		ev.Prompt = PromptInvalidRequest
	}
	c.emitter.Emit(ev)
}

func (c *Controller) emitState() {
	v := c.View()
	c.emitter.Emit(Event{Type: EventState, State: &v})
}

// View returns the page-facing snapshot of the attempt.
func (c *Controller) View() View {
	v := View{
		AttemptID:      c.attemptID,
		Candidate:      c.candidate,
		Status:         c.latch.Status(),
		CurrentIndex:   c.currentIndex,
		TotalQuestions: len(c.questions),
		AnsweredCount:  len(c.answers),
		TimeRemaining:  c.remaining,
	}
	if c.currentIndex < len(c.questions) {
		q := c.questions[c.currentIndex]
		v.Question = &q
	}
	if sel, ok := c.answers[c.currentIndex]; ok {
		v.Selected = &sel
	}
	if n := len(c.questions); n > 0 {
		v.ProgressPercent = percent(len(c.answers), n)
	}
	if c.durationSeconds > 0 {
		v.TimePercent = percent(c.durationSeconds-c.remaining, c.durationSeconds)
	}
	return v
}

// Status returns the current attempt status.
func (c *Controller) Status() Status { return c.latch.Status() }

// SubmittedReason returns the reason recorded when Submitting was entered.
func (c *Controller) SubmittedReason() Reason { return c.latch.Reason() }

// Latch exposes the submission latch.
func (c *Controller) Latch() *Latch { return c.latch }

// Err returns the LoadError or SubmissionError that ended the attempt, if any.
func (c *Controller) Err() error { return c.failure }

// Answers returns a copy of the recorded answers.
func (c *Controller) Answers() map[int]int { return c.copyAnswers() }

// CurrentIndex returns the question on screen.
func (c *Controller) CurrentIndex() int { return c.currentIndex }

// TimeRemaining returns the countdown in seconds.
func (c *Controller) TimeRemaining() int { return c.remaining }

func (c *Controller) copyAnswers() map[int]int {
	out := make(map[int]int, len(c.answers))
	for k, v := range c.answers {
		out[k] = v
	}
	return out
}

// percent rounds half up, as the page displays it.
func percent(part, whole int) int {
	return int(math.Round(float64(part) * 100 / float64(whole)))
}

type nopReporter struct{}

func (nopReporter) Report(Report) {}

type nopEmitter struct{}

func (nopEmitter) Emit(Event) {}

type nopCloser struct{}

func (nopCloser) CloseAttempt(context.Context, string) error { return nil }
