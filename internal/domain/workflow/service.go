package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/caregap/internal/domain/records"
	"github.com/ehr/caregap/internal/domain/screening"
	"github.com/ehr/caregap/internal/platform/fhir"
	"github.com/ehr/caregap/internal/platform/metrics"
	"github.com/ehr/caregap/pkg/fhirmodels"
)

// RecordExchange is the record-exchange server as seen by the workflow.
type RecordExchange interface {
	FetchRecords(ctx context.Context, resourceType string, query url.Values) ([]json.RawMessage, error)
	EvaluateMeasure(ctx context.Context, measureID, subjectID, periodStart, periodEnd string) (*fhir.MeasureReport, error)
	ApplyPlan(ctx context.Context, planID, subjectID string) (*fhir.CarePlan, error)
	SubmitRecord(ctx context.Context, resource fhir.Submittable) (*fhir.SubmitAck, error)
}

// Config holds the measure and time settings of the workflow.
type Config struct {
	MeasureID      string
	PeriodStart    string
	PeriodEnd      string
	ReminderPlanID string
	ScreeningCode  string
	Zone           *time.Location
	StaleAfter     time.Duration
	FetchTimeout   time.Duration
	PatientLimit   int
}

const (
	defaultFetchTimeout = 30 * time.Second
	defaultPatientLimit = 100
	labCount            = 1000
)

// Service runs fetches and intents for workflow controllers.
type Service struct {
	client RecordExchange
	repo   Repository
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(client RecordExchange, repo Repository, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Zone == nil {
		cfg.Zone = screening.DefaultZone()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = screening.DefaultStaleAfter
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.PatientLimit <= 0 {
		cfg.PatientLimit = defaultPatientLimit
	}
	if cfg.ScreeningCode == "" {
		cfg.ScreeningCode = fhirmodels.LOINCTobaccoSmokingStatus
	}
	return &Service{client: client, repo: repo, cfg: cfg, logger: logger, now: time.Now}
}

// NewController returns a controller sharing the service time settings.
func (s *Service) NewController() *Controller {
	return NewController(Options{Zone: s.cfg.Zone, StaleAfter: s.cfg.StaleAfter, Now: s.now})
}

// fetch loads one kind of data for a subject and returns how to apply it.
// Failures are recovered as empty data inside the fetch.
type fetch struct {
	kind string
	load func(ctx context.Context, subject string) func(*Controller, Tag) bool
}

// SelectSubject switches the controller to a subject and starts every fetch
// in the background. Results are applied as they arrive.
func (s *Service) SelectSubject(ctx context.Context, ctrl *Controller, patientID string) Tag {
	tag := ctrl.SelectSubject(patientID)
	s.launch(ctx, ctrl, tag, s.allFetches())
	return tag
}

// SetReferenceDate updates the encounter date and refetches the decision
// inputs.
func (s *Service) SetReferenceDate(ctx context.Context, ctrl *Controller, date string) error {
	tag, err := ctrl.SetReferenceDate(date)
	if err != nil {
		return err
	}
	s.launch(ctx, ctrl, tag, s.decisionFetches())
	return nil
}

// Refresh evaluates a subject synchronously and returns the resulting
// snapshot.
func (s *Service) Refresh(ctx context.Context, ctrl *Controller, patientID, referenceDate string) (Snapshot, error) {
	tag := ctrl.SelectSubject(patientID)
	if referenceDate != "" {
		if _, err := ctrl.SetReferenceDate(referenceDate); err != nil {
			return Snapshot{}, err
		}
	}
	s.launch(ctx, ctrl, tag, s.allFetches()).Wait()
	snap := ctrl.Snapshot()
	if err := ctx.Err(); err != nil {
		return snap, err
	}
	if snap.Generation != tag.Generation {
		return snap, ErrStaleSubject
	}
	return snap, nil
}

// Evaluate is Refresh on a throwaway controller.
func (s *Service) Evaluate(ctx context.Context, patientID, referenceDate string) (Snapshot, error) {
	return s.Refresh(ctx, s.NewController(), patientID, referenceDate)
}

func (s *Service) launch(ctx context.Context, ctrl *Controller, tag Tag, fetches []fetch) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, f := range fetches {
		wg.Add(1)
		go func(f fetch) {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
			defer cancel()

			apply := f.load(fctx, tag.Subject)
			if ctx.Err() != nil {
				// Canceled by the owner of ctx; not a fetch failure.
				s.logger.Debug().Str("kind", f.kind).Str("subject", tag.Subject).Msg("fetch canceled, result dropped")
				return
			}
			if !apply(ctrl, tag) {
				metrics.RecordStaleResult(f.kind)
				s.logger.Debug().Str("kind", f.kind).Str("subject", tag.Subject).
					Uint64("generation", tag.Generation).Uint64("epoch", tag.Epoch).Msg("discarded stale result")
				return
			}
			if f.kind == kindMeasure || f.kind == kindScreening {
				if snap := ctrl.Snapshot(); snap.Ready && snap.Generation == tag.Generation {
					metrics.RecordDecision(string(snap.State))
				}
			}
		}(f)
	}
	return &wg
}

const (
	kindMeasure   = "measure"
	kindScreening = "screening"
)

func (s *Service) allFetches() []fetch {
	return append(s.decisionFetches(),
		fetch{"patient", s.loadPatient},
		fetch{"reminder", s.loadReminder},
		fetch{fhir.ResourceCondition, s.loadConditions},
		fetch{fhir.ResourceMedicationStatement, s.loadMedications},
		fetch{"labs", s.loadLabs},
		fetch{fhir.ResourceProcedure, s.loadProcedures},
		fetch{fhir.ResourceAllergyIntolerance, s.loadAllergies},
		fetch{fhir.ResourceFamilyMemberHistory, s.loadFamilyHistory},
		fetch{fhir.ResourceImmunization, s.loadImmunizations},
	)
}

func (s *Service) decisionFetches() []fetch {
	return []fetch{
		{kindMeasure, s.loadMeasure},
		{kindScreening, s.loadScreening},
	}
}

func (s *Service) fetchFailed(kind, subject string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	metrics.RecordFetchFailure(kind)
	s.logger.Warn().Err(err).Str("resource", kind).Str("subject", subject).Msg("fetch failed, using empty result")
}

func patientQuery(subject string) url.Values {
	q := url.Values{}
	q.Set("patient", subject)
	return q
}

func (s *Service) loadMeasure(ctx context.Context, subject string) func(*Controller, Tag) bool {
	report, err := s.client.EvaluateMeasure(ctx, s.cfg.MeasureID, subject, s.cfg.PeriodStart, s.cfg.PeriodEnd)
	if err != nil {
		s.fetchFailed(kindMeasure, subject, err)
		report = nil
	}
	return func(c *Controller, t Tag) bool { return c.ApplyMeasureReport(t, report) }
}

func (s *Service) loadScreening(ctx context.Context, subject string) func(*Controller, Tag) bool {
	q := patientQuery(subject)
	q.Set("code", s.cfg.ScreeningCode)
	obs, err := fhir.FetchAs[fhir.Observation](ctx, s.client, fhir.ResourceObservation, q)
	if err != nil {
		s.fetchFailed(kindScreening, subject, err)
	}
	latest := screening.LatestObservation(obs)
	return func(c *Controller, t Tag) bool { return c.ApplyScreeningObservation(t, latest) }
}

func (s *Service) loadPatient(ctx context.Context, subject string) func(*Controller, Tag) bool {
	q := url.Values{}
	q.Set("_id", subject)
	patients, err := fhir.FetchAs[fhir.Patient](ctx, s.client, fhir.ResourcePatient, q)
	if err != nil {
		s.fetchFailed(fhir.ResourcePatient, subject, err)
	}
	var banner *records.PatientBanner
	if len(patients) > 0 {
		b := records.BuildPatientBanner(patients[0])
		banner = &b
	}
	return func(c *Controller, t Tag) bool {
		return c.ApplyRecords(t, func(ch *records.Chart) { ch.Patient = banner })
	}
}

func (s *Service) loadReminder(ctx context.Context, subject string) func(*Controller, Tag) bool {
	text := ""
	if s.cfg.ReminderPlanID != "" {
		plan, err := s.client.ApplyPlan(ctx, s.cfg.ReminderPlanID, subject)
		if err != nil {
			// No reminder is a normal outcome; failures are not counted.
			s.logger.Debug().Err(err).Str("subject", subject).Msg("reminder unavailable")
		} else {
			text = ReminderText(plan)
		}
	}
	return func(c *Controller, t Tag) bool { return c.ApplyReminder(t, text) }
}

// ReminderText renders the first action of the first contained resource as
// "title: description".
func ReminderText(plan *fhir.CarePlan) string {
	action, ok := plan.FirstAction()
	if !ok {
		return ""
	}
	switch {
	case action.Title != "" && action.Description != "":
		return action.Title + ": " + action.Description
	case action.Title != "":
		return action.Title
	default:
		return action.Description
	}
}

func (s *Service) loadConditions(ctx context.Context, subject string) func(*Controller, Tag) bool {
	conds, err := fhir.FetchAs[fhir.Condition](ctx, s.client, fhir.ResourceCondition, patientQuery(subject))
	if err != nil {
		s.fetchFailed(fhir.ResourceCondition, subject, err)
	}
	rows := records.BuildConditions(conds)
	return func(c *Controller, t Tag) bool {
		return c.ApplyRecords(t, func(ch *records.Chart) { ch.Conditions = rows })
	}
}

func (s *Service) loadMedications(ctx context.Context, subject string) func(*Controller, Tag) bool {
	meds, err := fhir.FetchAs[fhir.MedicationStatement](ctx, s.client, fhir.ResourceMedicationStatement, patientQuery(subject))
	if err != nil {
		s.fetchFailed(fhir.ResourceMedicationStatement, subject, err)
	}
	rows := records.BuildMedications(meds)
	return func(c *Controller, t Tag) bool {
		return c.ApplyRecords(t, func(ch *records.Chart) { ch.Medications = rows })
	}
}

func (s *Service) loadLabs(ctx context.Context, subject string) func(*Controller, Tag) bool {
	q := patientQuery(subject)
	q.Set("category", fhirmodels.ObsCategoryLaboratory)
	q.Set("_count", fmt.Sprint(labCount))
	obs, err := fhir.FetchAs[fhir.Observation](ctx, s.client, fhir.ResourceObservation, q)
	if err != nil {
		s.fetchFailed("labs", subject, err)
	}
	groups := records.BuildLabs(obs)
	return func(c *Controller, t Tag) bool {
		return c.ApplyRecords(t, func(ch *records.Chart) { ch.Labs = groups })
	}
}

func (s *Service) loadProcedures(ctx context.Context, subject string) func(*Controller, Tag) bool {
	procs, err := fhir.FetchAs[fhir.Procedure](ctx, s.client, fhir.ResourceProcedure, patientQuery(subject))
	if err != nil {
		s.fetchFailed(fhir.ResourceProcedure, subject, err)
	}
	days := records.BuildProcedures(procs)
	return func(c *Controller, t Tag) bool {
		return c.ApplyRecords(t, func(ch *records.Chart) { ch.Procedures = days })
	}
}

func (s *Service) loadAllergies(ctx context.Context, subject string) func(*Controller, Tag) bool {
	items, err := fhir.FetchAs[fhir.AllergyIntolerance](ctx, s.client, fhir.ResourceAllergyIntolerance, patientQuery(subject))
	if err != nil {
		s.fetchFailed(fhir.ResourceAllergyIntolerance, subject, err)
	}
	rows := records.BuildAllergies(items)
	return func(c *Controller, t Tag) bool {
		return c.ApplyRecords(t, func(ch *records.Chart) { ch.Allergies = rows })
	}
}

func (s *Service) loadFamilyHistory(ctx context.Context, subject string) func(*Controller, Tag) bool {
	items, err := fhir.FetchAs[fhir.FamilyMemberHistory](ctx, s.client, fhir.ResourceFamilyMemberHistory, patientQuery(subject))
	if err != nil {
		s.fetchFailed(fhir.ResourceFamilyMemberHistory, subject, err)
	}
	rows := records.BuildFamilyHistory(items)
	return func(c *Controller, t Tag) bool {
		return c.ApplyRecords(t, func(ch *records.Chart) { ch.FamilyHistory = rows })
	}
}

func (s *Service) loadImmunizations(ctx context.Context, subject string) func(*Controller, Tag) bool {
	items, err := fhir.FetchAs[fhir.Immunization](ctx, s.client, fhir.ResourceImmunization, patientQuery(subject))
	if err != nil {
		s.fetchFailed(fhir.ResourceImmunization, subject, err)
	}
	rows := records.BuildImmunizations(items)
	return func(c *Controller, t Tag) bool {
		return c.ApplyRecords(t, func(ch *records.Chart) { ch.Immunizations = rows })
	}
}

// ListPatients returns the banners of the patients available for selection.
func (s *Service) ListPatients(ctx context.Context) ([]records.PatientBanner, error) {
	q := url.Values{}
	q.Set("_count", fmt.Sprint(s.cfg.PatientLimit))
	patients, err := fhir.FetchAs[fhir.Patient](ctx, s.client, fhir.ResourcePatient, q)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	out := make([]records.PatientBanner, 0, len(patients))
	for _, p := range patients {
		out = append(out, records.BuildPatientBanner(p))
	}
	return out, nil
}

// Actor identifies who triggered a submission, for the submission log.
type Actor struct {
	SessionID string
	UserID    string
}

// ConfirmNoChange records that the prior screening answer still holds.
func (s *Service) ConfirmNoChange(ctx context.Context, ctrl *Controller, actor Actor) (Snapshot, error) {
	p, err := ctrl.BeginConfirmNoChange()
	if err != nil {
		return ctrl.Snapshot(), err
	}
	return s.submit(ctx, ctrl, actor, p)
}

// SubmitFreshEntry records a new screening answer.
func (s *Service) SubmitFreshEntry(ctx context.Context, ctrl *Controller, actor Actor, code string) (Snapshot, error) {
	p, err := ctrl.BeginFreshEntry(code)
	if err != nil {
		return ctrl.Snapshot(), err
	}
	return s.submit(ctx, ctrl, actor, p)
}

// RequestQualifyingEncounter records a qualifying visit and, on success,
// refetches the decision inputs in the background under fetchCtx. ctx only
// bounds the submission, so a request context may be passed for it.
func (s *Service) RequestQualifyingEncounter(ctx, fetchCtx context.Context, ctrl *Controller, actor Actor, req screening.EncounterRequest) (Snapshot, error) {
	p, err := ctrl.BeginQualifyingEncounter(req)
	if err != nil {
		return ctrl.Snapshot(), err
	}
	snap, err := s.submit(ctx, ctrl, actor, p)
	if err != nil {
		return snap, err
	}
	if tag := ctrl.Tag(); tag.SameSelection(p.Tag) {
		s.launch(fetchCtx, ctrl, tag, s.decisionFetches())
	}
	return snap, nil
}

func (s *Service) submit(ctx context.Context, ctrl *Controller, actor Actor, p PendingSubmission) (Snapshot, error) {
	ack, submitErr := s.client.SubmitRecord(ctx, p.Resource)
	metrics.RecordSubmission(p.Kind, submitErr == nil)

	entry := &Submission{
		SessionID:    actor.SessionID,
		PatientID:    p.Tag.Subject,
		Kind:         p.Kind,
		ResourceType: p.Resource.FHIRResourceType(),
		Success:      submitErr == nil,
		SubmittedBy:  actor.UserID,
	}
	if ack != nil {
		entry.ResourceID = ack.ID
	}
	if submitErr != nil {
		entry.Error = submitErr.Error()
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("kind", p.Kind).Msg("failed to record submission")
	}

	err := ctrl.CompleteSubmission(p, ack, submitErr)
	switch {
	case errors.Is(err, ErrStaleSubject):
		s.logger.Info().Str("kind", p.Kind).Str("subject", p.Tag.Subject).Msg("submission completed after subject change")
	case err != nil:
		s.logger.Warn().Err(submitErr).Str("kind", p.Kind).Str("subject", p.Tag.Subject).Msg("submission failed")
	default:
		s.logger.Info().Str("kind", p.Kind).Str("subject", p.Tag.Subject).Str("resource_id", entry.ResourceID).Msg("submission recorded")
	}
	return ctrl.Snapshot(), err
}

// ListSubmissions returns the submission log of a patient, newest first.
func (s *Service) ListSubmissions(ctx context.Context, patientID string, limit, offset int) ([]*Submission, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
