package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"orgai/services/chat-api/internal/config"
	"orgai/services/chat-api/internal/domain/conversation"
	"orgai/services/chat-api/internal/domain/moderation"
	"orgai/services/chat-api/internal/domain/pricing"
	"orgai/services/chat-api/internal/domain/review"
	"orgai/services/chat-api/internal/domain/spend"
	"orgai/services/chat-api/internal/infrastructure/metrics"
	"orgai/services/chat-api/internal/utils/idgen"
	"orgai/services/chat-api/internal/utils/platformerrors"
)

// rejectedMessage is persisted as the assistant turn when the provider's
// own content filter rejects a request.
const rejectedMessage = "Request rejected."

// failedMessage is pushed to the client when the provider call fails.
const failedMessage = "Request failed."

// Attachment limits per turn. References are data URLs or storage URLs;
// the byte cap keeps inline payloads bounded.
const (
	maxAttachments    = 3
	maxAttachmentSize = 20 << 20
)

// State is the terminal state of a processed turn.
type State string

const (
	StateCompleted       State = "completed"
	StateFlagged         State = "flagged"
	StateContentFiltered State = "content_filtered"
	StateProviderError   State = "provider_error"
)

// TurnRequest is one user turn to process.
type TurnRequest struct {
	UserEmail      string
	ConversationID string // empty starts a new conversation
	PresetID       string // required when starting
	Prompt         string
	Images         []string
	Files          []string
	InstanceID     string // client stream instance, tags pushed events
}

// Outcome is the result of a processed turn.
type Outcome struct {
	State          State
	ConversationID string
	Title          string
	Reply          string
	Cost           decimal.Decimal
	Verdict        moderation.Verdict

	// WeeklyLimitReached tells the client the next turn will be refused.
	WeeklyLimitReached bool
}

// Publisher pushes streaming events to connected clients.
type Publisher interface {
	// SetActive marks instanceID as the conversation's live stream.
	// Events tagged with any other instance are dropped.
	SetActive(userEmail, conversationID, instanceID string)

	// Publish delivers one event for the given stream instance.
	Publish(userEmail, conversationID, instanceID string, ev Event)
}

// Orchestrator drives a user turn through budget check, moderation,
// streaming and settlement.
type Orchestrator struct {
	catalog    *config.Catalog
	ledger     *spend.Ledger
	gate       *moderation.Gate
	store      conversation.Store
	queue      review.Queue
	streamer   CompletionStreamer
	calculator *pricing.Calculator
	publisher  Publisher
	titleModel string
	logger     zerolog.Logger
	now        func() time.Time
}

// NewOrchestrator wires the turn pipeline.
func NewOrchestrator(
	catalog *config.Catalog,
	ledger *spend.Ledger,
	gate *moderation.Gate,
	store conversation.Store,
	queue review.Queue,
	streamer CompletionStreamer,
	calculator *pricing.Calculator,
	publisher Publisher,
	titleModel string,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		catalog:    catalog,
		ledger:     ledger,
		gate:       gate,
		store:      store,
		queue:      queue,
		streamer:   streamer,
		calculator: calculator,
		publisher:  publisher,
		titleModel: titleModel,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessTurn runs one user turn to a terminal state.
//
// The pipeline is budget check, conversation load or create, moderation of
// the cumulative user transcript, then either the flagged path (no
// provider call, sentinel turn persisted, zero cost) or the streaming
// path. On the streaming path the user turn is persisted before the
// provider call, so a failed call leaves the prompt in the transcript.
// All billable usage of the turn, completion and title call alike, is
// settled in a single ledger write.
//
// A non-nil Outcome may accompany an error: when the ledger write loses
// all its retries the content is already persisted and the outcome
// describes it, while the error reports the unrecorded spend.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest) (*Outcome, error) {
	if req.Prompt == "" {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation, "prompt must not be empty", nil, "")
	}
	if err := validateAttachments(ctx, req); err != nil {
		return nil, err
	}

	group, ok := o.catalog.GroupForUser(req.UserEmail)
	if !ok {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeForbidden, "user does not belong to any group", nil, "")
	}

	if err := o.ledger.CheckBudget(ctx, req.UserEmail, group.UserMaxWeeklySpend); err != nil {
		if errors.Is(err, spend.ErrBudgetExceeded) {
			return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain,
				platformerrors.ErrorTypeBudgetExceeded, "weekly spend limit reached", err, "",
				map[string]any{"group": group.Name})
		}
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "check budget")
	}

	conv, isNew, preset, err := o.resolveConversation(ctx, group, req)
	if err != nil {
		return nil, err
	}

	verdict, err := o.gate.Classify(ctx, moderation.Transcript(preset.Title, conv.UserTexts(), req.Prompt))
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeExternal, "moderation failed", err, "")
	}

	switch {
	case verdict.Flagged:
		metrics.ModerationVerdicts.WithLabelValues("flagged").Inc()
	case verdict.NeedsReview:
		metrics.ModerationVerdicts.WithLabelValues("needs_review").Inc()
	default:
		metrics.ModerationVerdicts.WithLabelValues("clean").Inc()
	}

	userTurn := conversation.Turn{
		Role:      conversation.RoleUser,
		Text:      req.Prompt,
		Images:    req.Images,
		Files:     req.Files,
		CreatedAt: o.now().UTC(),
	}

	if verdict.Flagged {
		return o.flagConversation(ctx, group, conv, userTurn, verdict)
	}

	// For new conversations the review entry is queued before the
	// provider call; for continuing ones it is queued after the turn
	// settles, so the entry always reflects the persisted transcript.
	if verdict.NeedsReview && isNew {
		o.escalate(ctx, group, conv, verdict, false)
	}

	outcome, err := o.streamTurn(ctx, group, conv, preset, userTurn, isNew, req.InstanceID, verdict)

	// The post-settle re-check applies only when the turn actually
	// reached the provider and settled; a failed call queues nothing.
	if verdict.NeedsReview && !isNew && outcome != nil &&
		(outcome.State == StateCompleted || outcome.State == StateContentFiltered) {
		o.escalate(ctx, group, conv, verdict, false)
	}

	return outcome, err
}

// validateAttachments bounds attachment count and size before any side
// effect.
func validateAttachments(ctx context.Context, req TurnRequest) error {
	if len(req.Images)+len(req.Files) > maxAttachments {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation,
			fmt.Sprintf("at most %d attachments per turn", maxAttachments), nil, "")
	}
	for _, a := range append(append([]string{}, req.Images...), req.Files...) {
		if a == "" {
			return platformerrors.NewError(ctx, platformerrors.LayerDomain,
				platformerrors.ErrorTypeValidation, "empty attachment reference", nil, "")
		}
		if len(a) > maxAttachmentSize {
			return platformerrors.NewError(ctx, platformerrors.LayerDomain,
				platformerrors.ErrorTypeValidation, "attachment exceeds size limit", nil, "")
		}
	}
	return nil
}

// resolveConversation loads an existing conversation or builds a new one,
// and returns the preset governing it.
func (o *Orchestrator) resolveConversation(ctx context.Context, group *config.UserGroup, req TurnRequest) (*conversation.Conversation, bool, *config.Preset, error) {
	if req.ConversationID != "" {
		conv, found, err := o.store.Get(ctx, req.UserEmail, req.ConversationID)
		if err != nil {
			return nil, false, nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "load conversation")
		}
		if !found {
			return nil, false, nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
				platformerrors.ErrorTypeNotFound, "conversation not found", nil, "")
		}
		if conv.IsTerminal() {
			return nil, false, nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
				platformerrors.ErrorTypeForbidden, "conversation is flagged and cannot be continued", nil, "")
		}
		preset, ok := group.Preset(conv.Document.PresetID)
		if !ok {
			return nil, false, nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
				platformerrors.ErrorTypeValidation, "conversation preset no longer exists", nil, "")
		}
		return conv, false, preset, nil
	}

	preset, ok := group.Preset(req.PresetID)
	if !ok {
		return nil, false, nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation, fmt.Sprintf("unknown preset %q", req.PresetID), nil, "")
	}

	publicID, err := idgen.GenerateSecureID("conv", 16)
	if err != nil {
		return nil, false, nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeInternal, "generate conversation id", err, "")
	}

	now := o.now().UTC()
	conv := &conversation.Conversation{
		PublicID:  publicID,
		UserEmail: req.UserEmail,
		GroupName: group.Name,
		Title:     conversation.TitleFromMessage(req.Prompt),
		Cost:      decimal.Zero,
		Document:  conversation.Document{PresetID: preset.ID},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return conv, true, preset, nil
}

// flagConversation persists the user turn plus the flag sentinel, queues
// the conversation for review and returns without calling the provider.
// No cost is incurred.
func (o *Orchestrator) flagConversation(ctx context.Context, group *config.UserGroup, conv *conversation.Conversation, userTurn conversation.Turn, verdict moderation.Verdict) (*Outcome, error) {
	conv.Document.Turns = append(conv.Document.Turns, userTurn, conversation.Turn{
		Role:      conversation.RoleAssistant,
		Text:      conversation.FlagSentinel,
		CreatedAt: o.now().UTC(),
	})
	conv.Flagged = true
	conv.UpdatedAt = o.now().UTC()

	if err := o.store.Put(ctx, conv); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "persist flagged conversation")
	}

	o.escalate(ctx, group, conv, verdict, true)

	o.logger.Warn().
		Str("conversation_id", conv.PublicID).
		Str("group", group.Name).
		Float64("score", verdict.Score).
		Msg("conversation flagged")

	return &Outcome{
		State:          StateFlagged,
		ConversationID: conv.PublicID,
		Title:          conv.Title,
		Reply:          conversation.FlagMessage,
		Cost:           decimal.Zero,
		Verdict:        verdict,
	}, nil
}

// escalate queues the conversation for review. Reviewers exercising the
// system are not queued for their own group. Queue failures are logged,
// not surfaced: review is best-effort and must not block the turn.
func (o *Orchestrator) escalate(ctx context.Context, group *config.UserGroup, conv *conversation.Conversation, verdict moderation.Verdict, flagged bool) {
	if group.IsReviewer(conv.UserEmail) {
		return
	}
	err := o.queue.Upsert(ctx, &review.Entry{
		GroupName:      group.Name,
		ConversationID: conv.PublicID,
		UserEmail:      conv.UserEmail,
		Title:          conv.Title,
		Flagged:        flagged,
		Score:          verdict.Score,
		CreatedAt:      o.now().UTC(),
	})
	if err != nil {
		o.logger.Error().Err(err).
			Str("conversation_id", conv.PublicID).
			Msg("queue review entry")
	}
}

// streamTurn persists the user turn, runs the provider stream and settles
// cost. The streaming path's terminal states are completed,
// content_filtered and provider_error.
func (o *Orchestrator) streamTurn(ctx context.Context, group *config.UserGroup, conv *conversation.Conversation, preset *config.Preset, userTurn conversation.Turn, isNew bool, instanceID string, verdict moderation.Verdict) (*Outcome, error) {
	conv.Document.Turns = append(conv.Document.Turns, userTurn)
	conv.UpdatedAt = o.now().UTC()
	if err := o.store.Put(ctx, conv); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "persist user turn")
	}

	o.publisher.SetActive(conv.UserEmail, conv.PublicID, instanceID)

	result, streamErr := o.streamer.Stream(ctx, CompletionRequest{
		Model:            preset.Model,
		Instructions:     preset.Instructions,
		Temperature:      preset.Temperature,
		ReasoningEffort:  preset.ReasoningEffort,
		WebSearchEnabled: preset.WebSearchEnabled,
		Turns:            conv.Document.Turns,
	}, func(ev Event) {
		o.publisher.Publish(conv.UserEmail, conv.PublicID, instanceID, ev)
	})

	switch {
	case streamErr == nil:
		return o.settle(ctx, group, conv, preset, result, isNew, instanceID, verdict)

	case errors.Is(streamErr, ErrContentFiltered):
		return o.settleFiltered(ctx, group, conv, preset, result, instanceID, verdict)

	default:
		// Provider failure: the user turn stays persisted, nothing is
		// billed.
		o.publisher.Publish(conv.UserEmail, conv.PublicID, instanceID, Event{Type: EventFailed, Text: failedMessage})
		o.logger.Error().Err(streamErr).
			Str("conversation_id", conv.PublicID).
			Str("model", preset.Model).
			Msg("provider call failed")
		return &Outcome{
			State:          StateProviderError,
			ConversationID: conv.PublicID,
			Title:          conv.Title,
			Reply:          failedMessage,
			Cost:           decimal.Zero,
			Verdict:        verdict,
		}, nil
	}
}

// settle persists the assistant turn, generates a title for new
// conversations and records the whole turn's spend in one ledger write.
func (o *Orchestrator) settle(ctx context.Context, group *config.UserGroup, conv *conversation.Conversation, preset *config.Preset, result StreamResult, isNew bool, instanceID string, verdict moderation.Verdict) (*Outcome, error) {
	cost, err := o.calculator.Compute(preset.Model, result.Usage)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeInternal, "compute completion cost", err, "")
	}

	if isNew {
		title, titleUsage, titleErr := o.streamer.Summarise(ctx, o.titleModel, conv.Document.Turns[0].Text)
		if titleErr != nil {
			o.logger.Warn().Err(titleErr).
				Str("conversation_id", conv.PublicID).
				Msg("title generation failed, keeping provisional title")
		} else if title != "" {
			conv.Title = title
			titleCost, costErr := o.calculator.Compute(o.titleModel, titleUsage)
			if costErr != nil {
				o.logger.Warn().Err(costErr).Msg("compute title cost")
			} else {
				cost = cost.Add(titleCost)
			}
		}
	}

	conv.Document.Turns = append(conv.Document.Turns, conversation.Turn{
		Role:      conversation.RoleAssistant,
		Text:      result.Text,
		CreatedAt: o.now().UTC(),
	})
	conv.Cost = conv.Cost.Add(cost)
	conv.UpdatedAt = o.now().UTC()

	if err := o.store.Put(ctx, conv); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "persist assistant turn")
	}

	o.publisher.Publish(conv.UserEmail, conv.PublicID, instanceID, Event{Type: EventCompleted})

	outcome := &Outcome{
		State:          StateCompleted,
		ConversationID: conv.PublicID,
		Title:          conv.Title,
		Reply:          result.Text,
		Cost:           cost,
		Verdict:        verdict,
	}

	newTotal, err := o.ledger.RecordSpend(ctx, conv.UserEmail, group.Name, cost)
	if err != nil {
		// The transcript is already persisted; surface the unrecorded
		// spend alongside the outcome.
		if errors.Is(err, spend.ErrConcurrencyExhausted) {
			return outcome, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain,
				platformerrors.ErrorTypeConcurrencyExhausted, "spend not recorded after retries", err, "",
				map[string]any{"conversation_id": conv.PublicID, "amount": cost.String()})
		}
		return outcome, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "record spend")
	}
	metrics.SpendRecorded.WithLabelValues(group.Name).Add(cost.InexactFloat64())

	outcome.WeeklyLimitReached = !group.UserMaxWeeklySpend.IsZero() &&
		newTotal.GreaterThanOrEqual(group.UserMaxWeeklySpend)

	return outcome, nil
}

// settleFiltered handles a provider-side content rejection: the reported
// usage is still billed and a rejection turn is persisted so the
// conversation shows what happened.
func (o *Orchestrator) settleFiltered(ctx context.Context, group *config.UserGroup, conv *conversation.Conversation, preset *config.Preset, result StreamResult, instanceID string, verdict moderation.Verdict) (*Outcome, error) {
	cost, err := o.calculator.Compute(preset.Model, result.Usage)
	if err != nil {
		cost = decimal.Zero
	}

	conv.Document.Turns = append(conv.Document.Turns, conversation.Turn{
		Role:      conversation.RoleAssistant,
		Text:      rejectedMessage,
		CreatedAt: o.now().UTC(),
	})
	conv.Cost = conv.Cost.Add(cost)
	conv.UpdatedAt = o.now().UTC()

	if err := o.store.Put(ctx, conv); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "persist rejected turn")
	}

	o.publisher.Publish(conv.UserEmail, conv.PublicID, instanceID, Event{Type: EventFailed, Text: rejectedMessage})

	outcome := &Outcome{
		State:          StateContentFiltered,
		ConversationID: conv.PublicID,
		Title:          conv.Title,
		Reply:          rejectedMessage,
		Cost:           cost,
		Verdict:        verdict,
	}

	newTotal, err := o.ledger.RecordSpend(ctx, conv.UserEmail, group.Name, cost)
	if err != nil {
		if errors.Is(err, spend.ErrConcurrencyExhausted) {
			return outcome, platformerrors.NewError(ctx, platformerrors.LayerDomain,
				platformerrors.ErrorTypeConcurrencyExhausted, "spend not recorded after retries", err, "")
		}
		return outcome, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "record spend")
	}
	metrics.SpendRecorded.WithLabelValues(group.Name).Add(cost.InexactFloat64())

	outcome.WeeklyLimitReached = !group.UserMaxWeeklySpend.IsZero() &&
		newTotal.GreaterThanOrEqual(group.UserMaxWeeklySpend)

	return outcome, nil
}
