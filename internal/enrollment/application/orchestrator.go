package application

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gridwise/enrollflow/internal/enrollment/crypto"
	"github.com/gridwise/enrollflow/internal/enrollment/domain"
	"github.com/gridwise/enrollflow/internal/enrollment/infrastructure/mailer"
	"github.com/gridwise/enrollflow/pkg/cache"
	"github.com/gridwise/enrollflow/pkg/logger"
	"github.com/gridwise/enrollflow/pkg/metrics"
)

// ClientFactory selects the upstream API client for an instance. The demo
// variant is chosen here so no other component needs to know about demo mode.
type ClientFactory func(inst *domain.FormInstance) domain.ProgramAPIClient

// Orchestrator drives the step state machine. It is the only component that
// mutates submissions, and the only place lower-layer errors are classified
// into user-facing messages.
type Orchestrator struct {
	instances domain.InstanceRepository
	store     domain.SubmissionStore
	clients   ClientFactory
	mapper    *FieldMapper
	events    domain.EventDispatcher
	mail      mailer.Mailer
	enc       *crypto.Encryptor
	metrics   *metrics.Metrics
	cache     *cache.RedisCache

	resumeBaseURL string
	now           func() time.Time
}

// NewOrchestrator wires the step state machine service.
func NewOrchestrator(
	instances domain.InstanceRepository,
	store domain.SubmissionStore,
	clients ClientFactory,
	events domain.EventDispatcher,
	mail mailer.Mailer,
	enc *crypto.Encryptor,
	m *metrics.Metrics,
	c *cache.RedisCache,
	resumeBaseURL string,
) *Orchestrator {
	return &Orchestrator{
		instances:     instances,
		store:         store,
		clients:       clients,
		mapper:        NewFieldMapper(),
		events:        events,
		mail:          mail,
		enc:           enc,
		metrics:       m,
		cache:         c,
		resumeBaseURL: resumeBaseURL,
		now:           time.Now,
	}
}

// Generic user messages. Internal detail never rides along with these.
const (
	msgGenericFailure  = "Something went wrong. Please try again."
	msgFormUnavailable = "This form is not available."
	msgSlotTaken       = "That appointment slot is no longer available. Please choose another time."
	msgRetryPromised   = "We received your enrollment and will finish processing it automatically. You do not need to resubmit."
	msgInvalidResume   = "This link is invalid or has expired."
)

// ResolveInstance loads the active instance for a slug. Inactive and unknown
// slugs both come back as the same unavailable message.
func (o *Orchestrator) ResolveInstance(ctx context.Context, slug string) (*domain.FormInstance, *UserFacingError) {
	inst, err := o.instances.GetBySlug(ctx, slug, true)
	if err != nil {
		if errors.Is(err, domain.ErrInstanceInactive) {
			return nil, &UserFacingError{Message: msgFormUnavailable}
		}
		logger.Error(ctx, "Failed to resolve form instance", "slug", slug, "error", err)
		return nil, &UserFacingError{Message: msgGenericFailure}
	}
	if inst == nil {
		return nil, &UserFacingError{Message: msgFormUnavailable}
	}
	return inst, nil
}

// FormToken derives the anti-forgery token for a session. It is issued on
// load_step and resume_form and required on every mutating call.
func (o *Orchestrator) FormToken(sessionID string) string {
	return o.enc.Hash("form-token:" + sessionID)
}

// VerifyFormToken checks a presented token in constant time.
func (o *Orchestrator) VerifyFormToken(sessionID, token string) bool {
	if sessionID == "" || token == "" {
		return false
	}
	return o.enc.VerifyHash("form-token:"+sessionID, token)
}

// ParseStep applies the step coercion policy: the literal strings "success"
// and "complete" mean the terminal state and skip numeric handling, everything
// else is coerced to an integer and floored at 1.
func ParseStep(raw string) (step int, terminal bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "complete":
		return 0, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1, false
	}
	return n, false
}

// LoadStep resolves or creates the submission for a session and merges any
// fields the browser sent along. It returns everything the frontend needs to
// render the requested step, including the anti-forgery token.
func (o *Orchestrator) LoadStep(ctx context.Context, inst *domain.FormInstance, sessionID, stepRaw string, formData domain.FormData, meta ClientMeta) (*LoadStepResult, *UserFacingError) {
	if sessionID == "" {
		sessionID = newSessionID()
	}
	sub, err := o.ensureSubmission(ctx, inst, sessionID, meta)
	if err != nil {
		logger.Error(ctx, "Failed to load submission", "session_id", sessionID, "error", err)
		return nil, &UserFacingError{Message: msgGenericFailure}
	}

	step, terminal := ParseStep(stepRaw)
	if terminal {
		step = inst.FormType.StepCount()
	}

	upd := domain.SubmissionUpdate{}
	if len(formData) > 0 {
		upd.FormData = formData
	}
	// Step advancement is monotonic; a stale or duplicate request never moves
	// the submission backwards.
	if step > sub.Step {
		upd.Step = &step
	}
	if upd.FormData != nil || upd.Step != nil {
		if err := o.store.UpdateSubmission(ctx, sub.ID, upd); err != nil {
			logger.Error(ctx, "Failed to persist step load", "submission_id", sub.ID, "error", err)
			return nil, &UserFacingError{Message: msgGenericFailure}
		}
		sub.FormData = sub.FormData.Merge(formData)
		if step > sub.Step {
			sub.Step = step
		}
	}

	o.countStep(inst.Slug, sub.Step)
	o.recordStepEvent(ctx, inst, sub, sub.Step, domain.StepEventEnter)

	return &LoadStepResult{
		SessionID: sessionID,
		Step:      sub.Step,
		Terminal:  terminal,
		FormType:  inst.FormType,
		FormData:  sub.FormData,
		FormToken: o.FormToken(sessionID),
		Content:   inst.Settings.ContentOverrides,
	}, nil
}

// ValidateAccount checks the account/zip pair against the program API. A
// business-invalid account returns the upstream message verbatim; transport
// failures are genericized.
func (o *Orchestrator) ValidateAccount(ctx context.Context, inst *domain.FormInstance, sessionID, accountNumber, zip string, meta ClientMeta) (*ValidateAccountResult, *UserFacingError) {
	sub, err := o.ensureSubmission(ctx, inst, sessionID, meta)
	if err != nil {
		logger.Error(ctx, "Failed to load submission", "session_id", sessionID, "error", err)
		return nil, &UserFacingError{Message: msgGenericFailure}
	}

	handler := NewFormHandler()
	lookup := handler.SanitizeStep(1, domain.FormData{"account_number": accountNumber, "zip": zip})
	if !handler.ValidateStep1(lookup) {
		return nil, &UserFacingError{Message: handler.FirstError(), Fields: handler.Errors()}
	}
	accountNumber = lookup.String("account_number")
	zip = lookup.String("zip")

	client := o.clients(inst)
	start := o.now()
	result, err := client.ValidateAccount(ctx, accountNumber, zip)
	o.observeAPICall("validate_account", start, err)
	if err != nil {
		return nil, o.classify(ctx, inst, sub, "validate_account", err)
	}

	if !result.IsValid() {
		o.store.Log(ctx, domain.LogLevelInfo, "Account validation rejected",
			map[string]any{"account_number": crypto.Mask(accountNumber, 0, 4)}, inst.ID, sub.ID)
		msg := result.ErrorMessage()
		if msg == "" {
			msg = "We could not validate that account number and zip code."
		}
		return nil, &UserFacingError{Message: msg}
	}

	addr := result.GetAddress()
	merged := domain.FormData{
		"account_number": accountNumber,
		"zip":            zip,
		"first_name":     result.FirstName(),
		"last_name":      result.LastName(),
		"address":        addr.Street,
		"city":           addr.City,
		"state":          addr.State,
	}
	if result.Email() != "" {
		merged["email"] = result.Email()
	}
	if result.CaNo() != "" {
		merged["ca_no"] = result.CaNo()
	}
	if result.ComvergeNo() != "" {
		merged["comverge_no"] = result.ComvergeNo()
	}
	if result.RequiresMedicalAcknowledgment() {
		merged["medical_flag"] = true
	}

	step := 3
	name := strings.TrimSpace(result.FirstName() + " " + result.LastName())
	upd := domain.SubmissionUpdate{
		AccountNumber: &accountNumber,
		FormData:      merged,
		Step:          &step,
	}
	if name != "" {
		upd.CustomerName = &name
	}
	if err := o.store.UpdateSubmission(ctx, sub.ID, upd); err != nil {
		logger.Error(ctx, "Failed to persist validated account", "submission_id", sub.ID, "error", err)
		return nil, &UserFacingError{Message: msgGenericFailure}
	}

	o.events.Trigger(ctx, domain.EventAccountValidated, map[string]any{
		"session_id":     sessionID,
		"account_number": crypto.Mask(accountNumber, 0, 4),
		"zip":            zip,
	}, inst.ID)

	out := &ValidateAccountResult{
		FirstName: result.FirstName(),
		LastName:  result.LastName(),
		Email:     result.Email(),
		Address:   addr,
	}
	if result.RequiresMedicalAcknowledgment() {
		out.RequiresMedicalAcknowledgment = true
		out.MedicalMessage = "Our records indicate medical equipment may be in use at this address. Please confirm it is safe to participate before continuing."
	}
	return out, nil
}

// EnrollEarly submits the enrollment as soon as the device step is complete,
// so a later abandon still leaves the customer enrolled.
func (o *Orchestrator) EnrollEarly(ctx context.Context, inst *domain.FormInstance, sessionID string, formData domain.FormData, meta ClientMeta) (*EnrollEarlyResult, *UserFacingError) {
	sub, err := o.ensureSubmission(ctx, inst, sessionID, meta)
	if err != nil {
		logger.Error(ctx, "Failed to load submission", "session_id", sessionID, "error", err)
		return nil, &UserFacingError{Message: msgGenericFailure}
	}

	data := sub.FormData.Merge(formData)
	if err := o.mapper.RequireFields(data, OperationEnrollment); err != nil {
		return nil, o.classify(ctx, inst, sub, "enroll_early", err)
	}

	handler := NewFormHandler()
	payload := domain.FormData(o.mapper.MapEnrollmentData(handler.PrepareForAPI(data)))

	client := o.clients(inst)
	start := o.now()
	raw, err := client.Enroll(ctx, payload)
	o.observeAPICall("enroll", start, err)
	if err != nil {
		return nil, o.classify(ctx, inst, sub, "enroll_early", err)
	}

	ids := domain.FormData{
		"fsr_no":               domain.ExtractFsrNo(raw),
		"ca_no":                domain.ExtractCaNo(raw),
		"enrollment_completed": true,
	}
	if cv := domain.ExtractComvergeNo(raw); cv != "" {
		ids["comverge_no"] = cv
	}
	status := domain.SubmissionStatusEnrolled
	device := data.String("device_type")
	upd := domain.SubmissionUpdate{
		FormData: formData.Merge(ids),
		Status:   &status,
	}
	if device != "" {
		upd.DeviceType = &device
	}
	if err := o.store.UpdateSubmission(ctx, sub.ID, upd); err != nil {
		logger.Error(ctx, "Failed to persist enrollment identifiers", "submission_id", sub.ID, "error", err)
		return nil, &UserFacingError{Message: msgGenericFailure}
	}

	o.countSubmission(inst.Slug, string(domain.SubmissionStatusEnrolled))
	o.store.Log(ctx, domain.LogLevelInfo, "Early enrollment accepted",
		map[string]any{"fsr_no": ids.String("fsr_no")}, inst.ID, sub.ID)
	o.events.Trigger(ctx, domain.EventEnrollmentSubmitted, map[string]any{
		"session_id": sessionID,
		"fsr_no":     ids.String("fsr_no"),
		"ca_no":      ids.String("ca_no"),
	}, inst.ID)

	return &EnrollEarlyResult{
		FsrNo:      ids.String("fsr_no"),
		CaNo:       ids.String("ca_no"),
		ComvergeNo: ids.String("comverge_no"),
	}, nil
}

// GetScheduleSlots returns installer availability for the submission's
// equipment, with instance scheduling policy applied.
func (o *Orchestrator) GetScheduleSlots(ctx context.Context, inst *domain.FormInstance, sessionID string, meta ClientMeta) (*SlotsResult, *UserFacingError) {
	sub, err := o.ensureSubmission(ctx, inst, sessionID, meta)
	if err != nil {
		logger.Error(ctx, "Failed to load submission", "session_id", sessionID, "error", err)
		return nil, &UserFacingError{Message: msgGenericFailure}
	}

	equipment := EquipmentFromFormData(sub.FormData)
	client := o.clients(inst)
	start := o.now()
	result, err := client.GetScheduleSlots(ctx, sub.FormData.String("account_number"), o.now().Format("2006-01-02"), equipment)
	o.observeAPICall("get_schedule_slots", start, err)
	if err != nil {
		return nil, o.classify(ctx, inst, sub, "get_schedule_slots", err)
	}

	out := &SlotsResult{EquipmentCount: result.TotalEquipmentCount()}
	if result.IsScheduled() {
		out.AlreadyScheduled = true
		out.ScheduledDate = result.ScheduleDate()
		out.ScheduledTime = result.ScheduleTime()
		upd := domain.SubmissionUpdate{FormData: domain.FormData{
			"is_scheduled":  true,
			"schedule_date": result.ScheduleDate(),
			"schedule_time": result.ScheduleTime(),
		}}
		if err := o.store.UpdateSubmission(ctx, sub.ID, upd); err != nil {
			logger.Warn(ctx, "Failed to persist existing appointment", "submission_id", sub.ID, "error", err)
		}
		return out, nil
	}

	out.Slots = ApplySchedulingPolicy(result.Slots(), inst.Settings)
	return out, nil
}

// SubmitEnrollment is the final step. All prior steps are re-validated server
// side, an already-completed enrollment is not re-submitted, and any failure
// here lands in the retry queue instead of an error screen.
func (o *Orchestrator) SubmitEnrollment(ctx context.Context, inst *domain.FormInstance, sessionID string, formData domain.FormData, meta ClientMeta) (*SubmitResult, *UserFacingError) {
	sub, err := o.ensureSubmission(ctx, inst, sessionID, meta)
	if err != nil {
		logger.Error(ctx, "Failed to load submission", "session_id", sessionID, "error", err)
		return nil, &UserFacingError{Message: msgGenericFailure}
	}

	data := sub.FormData.Merge(formData)
	handler := NewFormHandler()
	if !handler.ValidateAll(data) {
		return nil, &UserFacingError{Message: handler.FirstError(), Fields: handler.Errors()}
	}

	result, ferr := o.finalizeEnrollment(ctx, inst, sub, data, handler)
	if ferr == nil {
		return result, nil
	}

	// The slot-taken code is a business outcome, not a failure; the user
	// re-selects instead of entering the retry path.
	var uerr *UserFacingError
	if errors.As(ferr, &uerr) && uerr.SlotUnavailable {
		return nil, uerr
	}

	logger.Error(ctx, "Final submission failed", "submission_id", sub.ID, "error", ferr)
	failed := domain.SubmissionStatusFailed
	if err := o.store.UpdateSubmission(ctx, sub.ID, domain.SubmissionUpdate{FormData: formData, Status: &failed}); err != nil {
		logger.Error(ctx, "Failed to mark submission failed", "submission_id", sub.ID, "error", err)
	}
	if err := o.store.AddToRetryQueue(ctx, sub.ID, inst.ID, ferr.Error()); err != nil {
		logger.Error(ctx, "Failed to enqueue retry", "submission_id", sub.ID, "error", err)
	}
	o.countSubmission(inst.Slug, string(domain.SubmissionStatusFailed))
	o.store.Log(ctx, domain.LogLevelError, "Final submission queued for retry",
		map[string]any{"error": ferr.Error()}, inst.ID, sub.ID)

	return nil, &UserFacingError{Message: msgRetryPromised, Retrying: true}
}

// finalizeEnrollment does the enroll-and-book work for the final step. Any
// error it returns (other than a slot-unavailable UserFacingError) is treated
// as retryable by the caller.
func (o *Orchestrator) finalizeEnrollment(ctx context.Context, inst *domain.FormInstance, sub *domain.Submission, data domain.FormData, handler *FormHandler) (*SubmitResult, error) {
	client := o.clients(inst)
	confirmation := ""

	if !data.Bool("enrollment_completed") {
		payload := domain.FormData(o.mapper.MapEnrollmentData(handler.PrepareForAPI(data)))
		start := o.now()
		raw, err := client.Enroll(ctx, payload)
		o.observeAPICall("enroll", start, err)
		if err != nil {
			return nil, fmt.Errorf("enroll: %w", err)
		}
		data["fsr_no"] = domain.ExtractFsrNo(raw)
		data["ca_no"] = domain.ExtractCaNo(raw)
		if cv := domain.ExtractComvergeNo(raw); cv != "" {
			data["comverge_no"] = cv
		}
		data["enrollment_completed"] = true
		confirmation = domain.ExtractConfirmation(raw)

		// Record the accepted enrollment before attempting the booking so a
		// slot rejection cannot lose the upstream identifiers.
		enrolled := domain.SubmissionStatusEnrolled
		upd := domain.SubmissionUpdate{
			FormData: domain.FormData{
				"fsr_no":               data["fsr_no"],
				"ca_no":                data["ca_no"],
				"enrollment_completed": true,
			},
			Status: &enrolled,
		}
		if cv := data.String("comverge_no"); cv != "" {
			upd.FormData["comverge_no"] = cv
		}
		if err := o.store.UpdateSubmission(ctx, sub.ID, upd); err != nil {
			return nil, fmt.Errorf("persist enrollment identifiers: %w", err)
		}
	}

	scheduleLater := data.Bool("schedule_later") || data.String("schedule_date") == ""
	if !scheduleLater {
		equipment := EquipmentFromFormData(data)
		start := o.now()
		code, err := client.BookAppointment(ctx, data.String("fsr_no"), data.String("ca_no"),
			data.String("schedule_date"), data.String("schedule_time"), equipment)
		o.observeAPICall("book_appointment", start, err)
		if err != nil {
			return nil, fmt.Errorf("book appointment: %w", err)
		}
		switch code {
		case domain.BookingCodeSuccess:
			data["is_scheduled"] = true
		case domain.BookingCodeUnavailable:
			return nil, &UserFacingError{Message: msgSlotTaken, SlotUnavailable: true}
		default:
			return nil, fmt.Errorf("book appointment: unexpected booking code %q", code)
		}
	}

	// Prefer an API-issued confirmation number over a locally generated one.
	if confirmation == "" {
		confirmation = handler.GenerateConfirmationNumber()
	}

	completed := domain.SubmissionStatusCompleted
	now := o.now()
	upd := domain.SubmissionUpdate{
		FormData:           data,
		Status:             &completed,
		ConfirmationNumber: &confirmation,
		CompletedAt:        &now,
	}
	if err := o.store.UpdateSubmission(ctx, sub.ID, upd); err != nil {
		return nil, fmt.Errorf("persist completion: %w", err)
	}

	o.countSubmission(inst.Slug, string(domain.SubmissionStatusCompleted))
	o.store.Log(ctx, domain.LogLevelInfo, "Enrollment completed",
		map[string]any{"confirmation_number": confirmation}, inst.ID, sub.ID)

	eventData := map[string]any{
		"session_id":          sub.SessionID,
		"confirmation_number": confirmation,
		"fsr_no":              data.String("fsr_no"),
		"schedule_later":      scheduleLater,
	}
	o.events.Trigger(ctx, domain.EventEnrollmentCompleted, eventData, inst.ID)
	o.events.Trigger(ctx, domain.EventFormCompleted, eventData, inst.ID)

	o.sendConfirmationEmail(ctx, inst, sub, data, confirmation)

	return &SubmitResult{ConfirmationNumber: confirmation, ScheduleLater: scheduleLater}, nil
}

// BookAppointment books a slot for the scheduler flow, branching on the
// three-way booking code.
func (o *Orchestrator) BookAppointment(ctx context.Context, inst *domain.FormInstance, sessionID, date, timeBucket string, meta ClientMeta) (*BookResult, *UserFacingError) {
	sub, err := o.ensureSubmission(ctx, inst, sessionID, meta)
	if err != nil {
		logger.Error(ctx, "Failed to load submission", "session_id", sessionID, "error", err)
		return nil, &UserFacingError{Message: msgGenericFailure}
	}

	handler := NewFormHandler()
	if !handler.ValidateStep4(domain.FormData{"schedule_date": date, "schedule_time": timeBucket}) {
		return nil, &UserFacingError{Message: handler.FirstError(), Fields: handler.Errors()}
	}

	equipment := EquipmentFromFormData(sub.FormData)
	client := o.clients(inst)
	start := o.now()
	code, err := client.BookAppointment(ctx, sub.FormData.String("fsr_no"), sub.FormData.String("ca_no"), date, timeBucket, equipment)
	o.observeAPICall("book_appointment", start, err)
	if err != nil {
		return nil, o.classify(ctx, inst, sub, "book_appointment", err)
	}

	switch code {
	case domain.BookingCodeSuccess:
	case domain.BookingCodeUnavailable:
		return nil, &UserFacingError{Message: msgSlotTaken, SlotUnavailable: true}
	default:
		logger.Error(ctx, "Unexpected booking code", "submission_id", sub.ID, "code", code)
		o.store.Log(ctx, domain.LogLevelError, "Unexpected booking code",
			map[string]any{"code": code}, inst.ID, sub.ID)
		return nil, &UserFacingError{Message: msgGenericFailure}
	}

	upd := domain.SubmissionUpdate{FormData: domain.FormData{
		"schedule_date": date,
		"schedule_time": timeBucket,
		"is_scheduled":  true,
	}}
	if err := o.store.UpdateSubmission(ctx, sub.ID, upd); err != nil {
		logger.Error(ctx, "Failed to persist booking", "submission_id", sub.ID, "error", err)
		return nil, &UserFacingError{Message: msgGenericFailure}
	}

	o.events.Trigger(ctx, domain.EventAppointmentScheduled, map[string]any{
		"session_id":    sessionID,
		"schedule_date": date,
		"schedule_time": timeBucket,
	}, inst.ID)

	merged := sub.FormData.Merge(domain.FormData{"schedule_date": date, "schedule_time": timeBucket})
	o.sendConfirmationEmail(ctx, inst, sub, merged, sub.ConfirmationNumber)

	return &BookResult{
		ScheduledFor: fmt.Sprintf("%s, %s", date, TimeBucketLabel(timeBucket)),
		Date:         date,
		Time:         timeBucket,
	}, nil
}

// SaveProgress persists the current form state without touching the API.
func (o *Orchestrator) SaveProgress(ctx context.Context, inst *domain.FormInstance, sessionID, stepRaw string, formData domain.FormData, meta ClientMeta) *UserFacingError {
	sub, err := o.ensureSubmission(ctx, inst, sessionID, meta)
	if err != nil {
		logger.Error(ctx, "Failed to load submission", "session_id", sessionID, "error", err)
		return &UserFacingError{Message: msgGenericFailure}
	}

	upd := domain.SubmissionUpdate{FormData: formData}
	step, terminal := ParseStep(stepRaw)
	if !terminal && step > sub.Step {
		upd.Step = &step
	}
	if err := o.store.UpdateSubmission(ctx, sub.ID, upd); err != nil {
		logger.Error(ctx, "Failed to save progress", "submission_id", sub.ID, "error", err)
		return &UserFacingError{Message: msgGenericFailure}
	}
	return nil
}

// SaveAndEmail persists progress, issues a one-time resume token and emails
// the resume link.
func (o *Orchestrator) SaveAndEmail(ctx context.Context, inst *domain.FormInstance, sessionID, stepRaw, email string, formData domain.FormData, meta ClientMeta) *UserFacingError {
	if email == "" {
		email = formData.String("email")
	}
	if email == "" {
		return &UserFacingError{Message: "Enter an email address to save your progress."}
	}

	if uerr := o.SaveProgress(ctx, inst, sessionID, stepRaw, formData, meta); uerr != nil {
		return uerr
	}

	token, err := newResumeToken()
	if err != nil {
		logger.Error(ctx, "Failed to generate resume token", "error", err)
		return &UserFacingError{Message: msgGenericFailure}
	}
	rec := &domain.ResumeToken{
		SessionID:  sessionID,
		InstanceID: inst.ID,
		Token:      token,
		Email:      email,
		ExpiresAt:  o.now().Add(domain.ResumeTokenTTL),
	}
	if err := o.store.SaveResumeToken(ctx, rec); err != nil {
		logger.Error(ctx, "Failed to save resume token", "session_id", sessionID, "error", err)
		return &UserFacingError{Message: msgGenericFailure}
	}

	resumeURL := fmt.Sprintf("%s?form=%s&token=%s", o.resumeBaseURL, url.QueryEscape(inst.Slug), url.QueryEscape(token))
	if err := o.mail.SendResumeLink(ctx, email, resumeURL); err != nil {
		logger.Error(ctx, "Failed to send resume email", "session_id", sessionID, "error", err)
		return &UserFacingError{Message: "We saved your progress but could not send the email. Please try again."}
	}
	return nil
}

// ResumeForm redeems a resume token. Wrong-instance, expired and used tokens
// all produce the same message.
func (o *Orchestrator) ResumeForm(ctx context.Context, inst *domain.FormInstance, token string) (*ResumeResult, *UserFacingError) {
	rec, err := o.store.GetResumeToken(ctx, token, inst.ID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			return nil, &UserFacingError{Message: msgInvalidResume}
		}
		logger.Error(ctx, "Failed to look up resume token", "error", err)
		return nil, &UserFacingError{Message: msgGenericFailure}
	}

	sub, err := o.store.GetSubmissionBySession(ctx, rec.SessionID, inst.ID)
	if err != nil || sub == nil {
		logger.Error(ctx, "Resume token points at missing submission", "session_id", rec.SessionID, "error", err)
		return nil, &UserFacingError{Message: msgInvalidResume}
	}

	if err := o.store.MarkResumeTokenUsed(ctx, token); err != nil {
		logger.Error(ctx, "Failed to invalidate resume token", "error", err)
		return nil, &UserFacingError{Message: msgGenericFailure}
	}

	o.store.Log(ctx, domain.LogLevelInfo, "Submission resumed via emailed link", nil, inst.ID, sub.ID)
	return &ResumeResult{
		SessionID: sub.SessionID,
		Step:      sub.Step,
		FormData:  sub.FormData,
		FormToken: o.FormToken(sub.SessionID),
	}, nil
}

// TrackStep records a step analytics event. It never fails the request.
func (o *Orchestrator) TrackStep(ctx context.Context, inst *domain.FormInstance, sessionID, stepRaw string, event domain.StepEventType) {
	step, terminal := ParseStep(stepRaw)
	if terminal {
		step = inst.FormType.StepCount()
	}
	ev := &domain.StepEvent{
		InstanceID: inst.ID,
		SessionID:  sessionID,
		Step:       step,
		Event:      event,
		IsTest:     inst.TestMode,
	}
	if err := o.store.RecordStepEvent(ctx, ev); err != nil {
		logger.Warn(ctx, "Failed to record step event", "session_id", sessionID, "error", err)
	}
	o.countStep(inst.Slug, step)
}

// promoCacheTTL keeps promo lists hot; upstream promo churn is slow.
const promoCacheTTL = 10 * time.Minute

// GetPromoCodes lists program promo codes after instance allow/deny filtering.
// The upstream list is cached per instance.
func (o *Orchestrator) GetPromoCodes(ctx context.Context, inst *domain.FormInstance) ([]string, *UserFacingError) {
	cacheKey := "enrollflow:promo:" + inst.Slug
	var codes []string
	if o.cache != nil {
		if err := o.cache.GetJSON(ctx, cacheKey, &codes); err != nil {
			logger.Warn(ctx, "Promo code cache read failed", "instance_id", inst.ID, "error", err)
		}
	}

	if codes == nil {
		client := o.clients(inst)
		start := o.now()
		fetched, err := client.GetPromoCodes(ctx)
		o.observeAPICall("get_promo_codes", start, err)
		if err != nil {
			logger.Error(ctx, "Failed to fetch promo codes", "instance_id", inst.ID, "error", err)
			return nil, &UserFacingError{Message: msgGenericFailure}
		}
		codes = fetched
		if o.cache != nil {
			if err := o.cache.SetJSON(ctx, cacheKey, codes, promoCacheTTL); err != nil {
				logger.Warn(ctx, "Promo code cache write failed", "instance_id", inst.ID, "error", err)
			}
		}
	}

	visible := make([]string, 0, len(codes))
	for _, code := range codes {
		if inst.Settings.PromoCodeVisible(code) {
			visible = append(visible, code)
		}
	}
	return visible, nil
}

// EquipmentFromFormData builds the API equipment map from the device counts
// collected on the device step.
func EquipmentFromFormData(data domain.FormData) map[string]domain.EquipmentItem {
	equipment := make(map[string]domain.EquipmentItem)
	if n := data.Int("thermostat_count"); n > 0 {
		equipment["TSTAT"] = domain.EquipmentItem{Count: n, Location: "inside"}
	}
	if n := data.Int("switch_count"); n > 0 {
		equipment["SWITCH"] = domain.EquipmentItem{Count: n, Location: "outside"}
	}
	return equipment
}

// ensureSubmission finds the submission for a (session, instance) pair,
// creating it on first contact.
func (o *Orchestrator) ensureSubmission(ctx context.Context, inst *domain.FormInstance, sessionID string, meta ClientMeta) (*domain.Submission, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("empty session id")
	}
	sub, err := o.store.GetSubmissionBySession(ctx, sessionID, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("look up submission: %w", err)
	}
	isTest := inst.TestMode || inst.Settings.DemoMode
	if sub != nil {
		if isTest && !sub.IsTest {
			if err := o.store.MarkSessionAsTest(ctx, sessionID, inst.ID); err != nil {
				logger.Warn(ctx, "Failed to tag session as test", "session_id", sessionID, "error", err)
			} else {
				sub.IsTest = true
			}
		}
		return sub, nil
	}

	sub = &domain.Submission{
		InstanceID: inst.ID,
		SessionID:  sessionID,
		FormData:   domain.FormData{},
		Status:     domain.SubmissionStatusInProgress,
		Step:       1,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		IsTest:     isTest,
	}
	id, err := o.store.CreateSubmission(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}
	sub.ID = id
	return sub, nil
}

// classify turns a lower-layer error into a user-facing one. Business
// rejections pass through verbatim, everything else is genericized and the
// detail stays in the logs.
func (o *Orchestrator) classify(ctx context.Context, inst *domain.FormInstance, sub *domain.Submission, operation string, err error) *UserFacingError {
	var rejection *domain.BusinessRejection
	if errors.As(err, &rejection) {
		return &UserFacingError{Message: rejection.Message}
	}

	var missing *domain.FieldMappingError
	if errors.As(err, &missing) {
		labels := o.mapper.FieldLabels(missing.MissingFields)
		return &UserFacingError{
			Message: "Please complete the following fields: " + strings.Join(labels, ", "),
		}
	}

	var fieldErrs domain.ValidationErrors
	if errors.As(err, &fieldErrs) {
		msg := msgGenericFailure
		for _, m := range fieldErrs {
			msg = m
			break
		}
		return &UserFacingError{Message: msg, Fields: fieldErrs}
	}

	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		logger.Error(ctx, "Upstream API call failed",
			"operation", operation, "status_code", apiErr.StatusCode, "error", err)
		o.store.Log(ctx, domain.LogLevelError, "Upstream API call failed",
			map[string]any{"operation": operation, "status_code": apiErr.StatusCode, "error": apiErr.Error()},
			inst.ID, sub.ID)
		return &UserFacingError{Message: msgGenericFailure}
	}

	logger.Error(ctx, "Unexpected error", "operation", operation, "error", err)
	o.store.Log(ctx, domain.LogLevelError, "Unexpected error",
		map[string]any{"operation": operation, "error": err.Error()}, inst.ID, sub.ID)
	return &UserFacingError{Message: msgGenericFailure}
}

func (o *Orchestrator) sendConfirmationEmail(ctx context.Context, inst *domain.FormInstance, sub *domain.Submission, data domain.FormData, confirmation string) {
	if !inst.Settings.SendConfirmationEmail {
		return
	}
	to := data.String("email")
	if to == "" {
		return
	}

	subject := inst.Settings.EmailSubject
	if subject == "" {
		subject = "Your {program} enrollment is confirmed"
	}
	body := inst.Settings.EmailBody
	if body == "" {
		body = "Hi {first_name},\r\n\r\nYour enrollment is confirmed. Your confirmation number is {confirmation_number}."
	}
	vars := map[string]string{
		"program":             inst.Name,
		"first_name":          data.String("first_name"),
		"last_name":           data.String("last_name"),
		"confirmation_number": confirmation,
		"schedule_date":       data.String("schedule_date"),
		"schedule_time":       TimeBucketLabel(data.String("schedule_time")),
	}
	if err := o.mail.SendConfirmation(ctx, to, subject, body, vars); err != nil {
		logger.Error(ctx, "Failed to send confirmation email", "submission_id", sub.ID, "error", err)
		o.store.Log(ctx, domain.LogLevelWarning, "Confirmation email failed",
			map[string]any{"error": err.Error()}, inst.ID, sub.ID)
	}
}

func (o *Orchestrator) observeAPICall(operation string, start time.Time, err error) {
	if o.metrics == nil {
		return
	}
	o.metrics.APICallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		o.metrics.APICallErrorsTotal.WithLabelValues(operation).Inc()
	}
}

func (o *Orchestrator) countStep(instance string, step int) {
	if o.metrics == nil {
		return
	}
	o.metrics.StepTransitionsTotal.WithLabelValues(instance, strconv.Itoa(step)).Inc()
}

func (o *Orchestrator) countSubmission(instance, status string) {
	if o.metrics == nil {
		return
	}
	o.metrics.SubmissionsTotal.WithLabelValues(instance, status).Inc()
}

func (o *Orchestrator) recordStepEvent(ctx context.Context, inst *domain.FormInstance, sub *domain.Submission, step int, event domain.StepEventType) {
	ev := &domain.StepEvent{
		InstanceID: inst.ID,
		SessionID:  sub.SessionID,
		Step:       step,
		Event:      event,
		IsTest:     sub.IsTest,
	}
	if err := o.store.RecordStepEvent(ctx, ev); err != nil {
		logger.Warn(ctx, "Failed to record step event", "submission_id", sub.ID, "error", err)
	}
}

func newSessionID() string {
	b := make([]byte, 16)
	if _, err := crand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))[:32]
	}
	return hex.EncodeToString(b)
}

func newResumeToken() (string, error) {
	b := make([]byte, 32)
	if _, err := crand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
