package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/ehr/caregap/internal/domain/records"
	"github.com/ehr/caregap/internal/domain/screening"
	"github.com/ehr/caregap/internal/platform/fhir"
)

// Submission kinds.
const (
	KindConfirm   = "screening_confirm"
	KindEntry     = "screening_entry"
	KindEncounter = "encounter"
)

// Tag identifies the subject selection a result belongs to. Results whose
// subject or generation differs from the controller's are discarded.
// Epoch counts the successful submissions of the selection; measure and
// screening results fetched under an older epoch are discarded as well.
type Tag struct {
	Subject    string `json:"subject"`
	Generation uint64 `json:"generation"`
	Epoch      uint64 `json:"epoch"`
}

// SameSelection reports whether two tags belong to the same subject
// selection, regardless of epoch.
func (t Tag) SameSelection(o Tag) bool {
	return t.Subject == o.Subject && t.Generation == o.Generation
}

// Options configures the time context of a Controller.
type Options struct {
	Zone       *time.Location
	StaleAfter time.Duration
	Now        func() time.Time
}

// PendingSubmission is a record prepared by an intent and awaiting the
// record-exchange server.
type PendingSubmission struct {
	Tag      Tag
	Kind     string
	Resource fhir.Submittable
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	Subject           string                    `json:"subject,omitempty"`
	Generation        uint64                    `json:"generation"`
	Ready             bool                      `json:"ready"`
	State             screening.State           `json:"state"`
	NeedsEncounter    bool                      `json:"needs_encounter"`
	EncounterFormOpen bool                      `json:"encounter_form_open"`
	ReferenceDate     string                    `json:"reference_date,omitempty"`
	StaleCutoff       time.Time                 `json:"stale_cutoff"`
	LatestObservation *fhir.Observation         `json:"latest_observation,omitempty"`
	Measure           *screening.MeasureSummary `json:"measure,omitempty"`
	Reminder          string                    `json:"reminder,omitempty"`
	Chart             records.Chart             `json:"chart"`
	Pending           bool                      `json:"pending"`
	LastError         string                    `json:"last_error,omitempty"`
}

// Controller owns the workflow state of one dashboard. All methods are safe
// for concurrent use; each holds the lock for a short critical section and
// performs no I/O.
type Controller struct {
	mu   sync.Mutex
	opts Options

	subject    string
	generation uint64
	epoch      uint64

	measure        screening.MeasureResult
	measureSummary *screening.MeasureSummary
	measureArrived bool
	latest         *fhir.Observation
	latestArrived  bool
	referenceDate  string

	// override replaces the derived state until the next input change.
	override screening.State
	pending  bool
	lastErr  error
	formOpen bool
	reminder string
	chart    records.Chart
}

func NewController(opts Options) *Controller {
	if opts.Zone == nil {
		opts.Zone = screening.DefaultZone()
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = screening.DefaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{opts: opts}
}

// SelectSubject switches to a new subject. All inputs and derived state are
// cleared before it returns. The returned tag must accompany every result
// fetched for this selection.
func (c *Controller) SelectSubject(id string) Tag {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.subject = id
	c.measure = screening.MeasureResult{}
	c.measureSummary = nil
	c.measureArrived = false
	c.latest = nil
	c.latestArrived = false
	c.referenceDate = ""
	c.override = ""
	c.pending = false
	c.lastErr = nil
	c.formOpen = false
	c.reminder = ""
	c.chart = records.Chart{}
	return c.tagLocked()
}

// Tag returns the current tag.
func (c *Controller) Tag() Tag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tagLocked()
}

func (c *Controller) tagLocked() Tag {
	return Tag{Subject: c.subject, Generation: c.generation, Epoch: c.epoch}
}

func (c *Controller) matchesLocked(tag Tag) bool {
	return c.subject != "" && tag.SameSelection(c.tagLocked())
}

// currentLocked also rejects decision inputs fetched before the last
// successful submission.
func (c *Controller) currentLocked(tag Tag) bool {
	return c.matchesLocked(tag) && tag.Epoch == c.epoch
}

// ApplyMeasureReport validates and stores a measure evaluation. A nil
// report is stored as an empty result.
func (c *Controller) ApplyMeasureReport(tag Tag, report *fhir.MeasureReport) bool {
	summary := screening.Summarize(report)
	return c.applyMeasure(tag, screening.MeasureResultFromReport(report), &summary)
}

// ApplyMeasureResult stores an already validated measure result.
func (c *Controller) ApplyMeasureResult(tag Tag, result screening.MeasureResult) bool {
	return c.applyMeasure(tag, result, &screening.MeasureSummary{Groups: result.Groups})
}

func (c *Controller) applyMeasure(tag Tag, result screening.MeasureResult, summary *screening.MeasureSummary) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(tag) {
		return false
	}
	c.measure = result
	c.measureSummary = summary
	c.measureArrived = true
	c.override = ""
	return true
}

// ApplyScreeningObservation stores the latest screening observation; nil
// records that the lookup completed and found none.
func (c *Controller) ApplyScreeningObservation(tag Tag, obs *fhir.Observation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(tag) {
		return false
	}
	c.latest = copyObservation(obs)
	c.latestArrived = true
	c.override = ""
	return true
}

// ApplyRecords updates display sections of the chart.
func (c *Controller) ApplyRecords(tag Tag, update func(*records.Chart)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.matchesLocked(tag) {
		return false
	}
	update(&c.chart)
	return true
}

func (c *Controller) ApplyReminder(tag Tag, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.matchesLocked(tag) {
		return false
	}
	c.reminder = text
	return true
}

// SetReferenceDate sets or, with "", clears the encounter date used as the
// staleness reference.
func (c *Controller) SetReferenceDate(date string) (Tag, error) {
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return Tag{}, ErrInvalidReferenceDate
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subject == "" {
		return Tag{}, ErrNoSubject
	}
	c.referenceDate = date
	c.override = ""
	return c.tagLocked(), nil
}

// BeginConfirmNoChange prepares a copy of the prior screening observation
// dated on the reference date, or today, at 08:00.
func (c *Controller) BeginConfirmNoChange() (PendingSubmission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkIntentLocked(); err != nil {
		return PendingSubmission{}, err
	}
	if state, _ := c.deriveLocked(); state != screening.ConfirmNoChange || c.latest == nil {
		return PendingSubmission{}, ErrInvalidTransition
	}

	effective := screening.ConfirmationTime(c.referenceDate, c.opts.Now(), c.opts.Zone)
	obs := screening.BuildConfirmation(*c.latest, effective)
	return c.beginLocked(KindConfirm, &obs), nil
}

// BeginFreshEntry prepares a new screening observation with the answer
// identified by a SNOMED code.
func (c *Controller) BeginFreshEntry(code string) (PendingSubmission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkIntentLocked(); err != nil {
		return PendingSubmission{}, err
	}
	if state, _ := c.deriveLocked(); state != screening.FreshEntry && state != screening.ConfirmNoChange {
		return PendingSubmission{}, ErrInvalidTransition
	}
	answer, ok := screening.LookupSmokingStatus(code)
	if !ok {
		return PendingSubmission{}, fmt.Errorf("%w: %q", ErrUnknownSmokingCode, code)
	}

	obs := screening.BuildFreshEntry(c.subject, answer, c.opts.Now())
	return c.beginLocked(KindEntry, &obs), nil
}

// BeginQualifyingEncounter prepares an encounter. The gate must be open.
func (c *Controller) BeginQualifyingEncounter(req screening.EncounterRequest) (PendingSubmission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkIntentLocked(); err != nil {
		return PendingSubmission{}, err
	}
	if _, needs := c.deriveLocked(); !needs {
		return PendingSubmission{}, ErrGateClosed
	}
	enc, err := screening.BuildEncounter(c.subject, req, c.opts.Zone)
	if err != nil {
		return PendingSubmission{}, err
	}
	return c.beginLocked(KindEncounter, &enc), nil
}

func (c *Controller) checkIntentLocked() error {
	if c.subject == "" {
		return ErrNoSubject
	}
	if c.pending {
		return ErrSubmissionPending
	}
	return nil
}

func (c *Controller) beginLocked(kind string, res fhir.Submittable) PendingSubmission {
	c.pending = true
	c.lastErr = nil
	return PendingSubmission{Tag: c.tagLocked(), Kind: kind, Resource: res}
}

// CompleteSubmission applies the outcome of a prepared submission. A
// failure leaves the workflow state unchanged and is surfaced as the last
// error. A success starts a new epoch so that decision refetches issued
// before it cannot overwrite its outcome. A completion for a previous
// subject selection changes nothing and returns ErrStaleSubject.
func (c *Controller) CompleteSubmission(p PendingSubmission, ack *fhir.SubmitAck, submitErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.matchesLocked(p.Tag) {
		return ErrStaleSubject
	}
	c.pending = false
	if submitErr != nil {
		c.lastErr = fmt.Errorf("%w: %w", ErrSubmissionFailed, submitErr)
		return c.lastErr
	}
	c.lastErr = nil
	c.epoch++

	switch p.Kind {
	case KindConfirm, KindEntry:
		if obs, ok := p.Resource.(*fhir.Observation); ok {
			stored := copyObservation(obs)
			if ack != nil && ack.ID != "" {
				stored.ID = ack.ID
			}
			c.latest = stored
			c.latestArrived = true
		}
		c.override = screening.Hidden
	case KindEncounter:
		c.formOpen = false
		c.referenceDate = ""
		c.override = ""
	}
	return nil
}

// Dismiss hides the screening prompt without recording anything.
func (c *Controller) Dismiss() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subject == "" {
		return ErrNoSubject
	}
	c.override = screening.Hidden
	return nil
}

// RequestUpdate moves from ConfirmNoChange to FreshEntry.
func (c *Controller) RequestUpdate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subject == "" {
		return ErrNoSubject
	}
	if state, _ := c.deriveLocked(); state != screening.ConfirmNoChange {
		return ErrInvalidTransition
	}
	c.override = screening.FreshEntry
	return nil
}

func (c *Controller) OpenEncounterForm() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subject == "" {
		return ErrNoSubject
	}
	if _, needs := c.deriveLocked(); !needs {
		return ErrGateClosed
	}
	c.formOpen = true
	return nil
}

func (c *Controller) CloseEncounterForm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.formOpen = false
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, needs := c.deriveLocked()
	s := Snapshot{
		Subject:           c.subject,
		Generation:        c.generation,
		Ready:             c.readyLocked(),
		State:             state,
		NeedsEncounter:    needs,
		EncounterFormOpen: c.formOpen,
		ReferenceDate:     c.referenceDate,
		StaleCutoff:       screening.StaleCutoff(c.inputLocked()),
		LatestObservation: copyObservation(c.latest),
		Reminder:          c.reminder,
		Chart:             c.chart,
		Pending:           c.pending,
	}
	if c.measureSummary != nil {
		m := *c.measureSummary
		s.Measure = &m
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Controller) readyLocked() bool {
	return c.subject != "" && c.measureArrived && c.latestArrived
}

func (c *Controller) inputLocked() screening.DecisionInput {
	return screening.DecisionInput{
		Now:           c.opts.Now(),
		ReferenceDate: c.referenceDate,
		Zone:          c.opts.Zone,
		StaleAfter:    c.opts.StaleAfter,
	}
}

// deriveLocked recomputes the workflow state and the encounter gate from the
// current inputs.
func (c *Controller) deriveLocked() (screening.State, bool) {
	if !c.readyLocked() {
		return screening.Hidden, false
	}
	needs := screening.NeedsQualifyingEncounter(c.measure)
	if c.override != "" {
		return c.override, needs
	}
	return screening.Decide(c.measure, c.latest, c.inputLocked()), needs
}

func copyObservation(obs *fhir.Observation) *fhir.Observation {
	if obs == nil {
		return nil
	}
	cp := *obs
	return &cp
}
