package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/candorchat/candor-relay/internal/classify"
	"github.com/candorchat/candor-relay/internal/provider"
	"github.com/candorchat/candor-relay/internal/stream"
)

// State of the per-conversation send cycle.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
)

// Publisher receives the full conversation snapshot after every mutation, so
// observers always see monotonically growing text.
type Publisher func(Conversation)

// ImageService performs the out-of-band image operations.
type ImageService interface {
	Generate(ctx context.Context, prompt string) (Asset, error)
	Edit(ctx context.Context, src Asset, kind classify.EditKind) (Asset, error)
}

// Orchestrator owns one conversation's message list and in-flight flag. It is
// the conversation's single writer: at most one generation is in flight, and
// a second send during Sending/Streaming is a silent no-op.
type Orchestrator struct {
	store      Store
	classifier *classify.Classifier
	backend    stream.CompletionBackend
	images     ImageService
	publish    Publisher
	logger     *log.Logger

	mu      sync.Mutex
	conv    *Conversation
	state   State
	lastErr string
	cancel  context.CancelFunc
}

// OrchestratorConfig wires an Orchestrator's collaborators. Publish and
// Images may be nil; Store, Classifier and Backend are required.
type OrchestratorConfig struct {
	Conversation *Conversation // nil starts a fresh conversation
	Store        Store
	Classifier   *classify.Classifier
	Backend      stream.CompletionBackend
	Images       ImageService
	Publish      Publisher
	Logger       *log.Logger
}

// NewOrchestrator creates an Orchestrator for one conversation.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("chat: store required")
	}
	if cfg.Classifier == nil {
		return nil, errors.New("chat: classifier required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("chat: completion backend required")
	}
	conv := cfg.Conversation
	if conv == nil {
		conv = NewConversation()
	}
	return &Orchestrator{
		store:      cfg.Store,
		classifier: cfg.Classifier,
		backend:    cfg.Backend,
		images:     cfg.Images,
		publish:    cfg.Publish,
		logger:     cfg.Logger,
		conv:       conv,
		state:      StateIdle,
	}, nil
}

// State returns the current send-cycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastError returns the user-facing error from the most recent settled cycle,
// empty when it settled cleanly.
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Conversation returns a snapshot of the current conversation.
func (o *Orchestrator) Conversation() Conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conv.snapshot()
}

// Cancel abandons an in-flight generation. The open assistant message is
// closed with whatever content has streamed; the upstream body is released.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ErrGenerationInFlight rejects conversation switches while a turn is live.
var ErrGenerationInFlight = errors.New("chat: generation in flight")

// Conversations lists every stored conversation, most recently updated first.
func (o *Orchestrator) Conversations(ctx context.Context) ([]*Conversation, error) {
	return o.store.ListAll(ctx)
}

// ResumeCurrent loads the store's current conversation, if one is recorded.
// With no recorded pointer the fresh conversation stands.
func (o *Orchestrator) ResumeCurrent(ctx context.Context) error {
	id, err := o.store.CurrentID(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	return o.SwitchConversation(ctx, id)
}

// SwitchConversation makes the stored conversation id the active one and
// records it as current. Rejected while a generation is in flight.
func (o *Orchestrator) SwitchConversation(ctx context.Context, id string) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrGenerationInFlight
	}
	o.mu.Unlock()

	convs, err := o.store.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, c := range convs {
		if c.ID == id {
			o.mu.Lock()
			o.conv = c
			o.mu.Unlock()
			if err := o.store.SetCurrentID(ctx, id); err != nil {
				return err
			}
			o.publishSnapshot()
			return nil
		}
	}
	return fmt.Errorf("chat: conversation %s not found", id)
}

// DeleteConversation removes a stored conversation. Deleting the active one
// starts a fresh conversation in its place.
func (o *Orchestrator) DeleteConversation(ctx context.Context, id string) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrGenerationInFlight
	}
	active := o.conv.ID == id
	o.mu.Unlock()

	if err := o.store.Delete(ctx, id); err != nil {
		return err
	}
	if active {
		o.mu.Lock()
		o.conv = NewConversation()
		o.mu.Unlock()
		o.publishSnapshot()
	}
	return nil
}

func (o *Orchestrator) publishSnapshot() {
	if o.publish == nil {
		return
	}
	o.mu.Lock()
	snap := o.conv.snapshot()
	o.mu.Unlock()
	o.publish(snap)
}

// SendMessage runs one full turn: append the user message, classify, drive
// the chosen path, settle. It blocks until the cycle settles and returns the
// error recorded for the cycle, if any. A call made while another generation
// is in flight is a no-op and returns nil.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, uploaded *Asset) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil
	}
	o.state = StateSending
	o.lastErr = ""
	ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.cancel != nil {
			o.cancel()
			o.cancel = nil
		}
		o.state = StateIdle
		o.mu.Unlock()
	}()

	firstExchange := len(o.conv.Messages) == 0

	userMsg := newMessage(RoleUser, text)
	userMsg.Asset = uploaded
	o.appendAndPublish(ctx, userMsg)
	if firstExchange {
		// The conversation now exists in the store; record it as current.
		if err := o.store.SetCurrentID(context.WithoutCancel(ctx), o.conv.ID); err != nil {
			o.debugf("chat.current conv=%s err=%v", o.conv.ID, err)
		}
	}

	decision := o.classifier.Classify(text, uploaded != nil)
	o.debugf("chat.turn conv=%s path=%s", o.conv.ID, decision.Path)

	var err error
	switch decision.Path {
	case classify.PathCannedAnswer:
		o.appendAndPublish(ctx, newMessage(RoleAssistant, decision.Answer))
	case classify.PathGenerateImage:
		err = o.runImageTurn(ctx, func(opCtx context.Context) (Asset, error) {
			return o.generateImage(opCtx, decision.Prompt)
		})
	case classify.PathEditImage:
		err = o.runImageTurn(ctx, func(opCtx context.Context) (Asset, error) {
			return o.editImage(opCtx, uploaded, decision.EditKind)
		})
	default:
		err = o.runCompletionTurn(ctx, firstExchange, text)
	}

	if err != nil {
		o.mu.Lock()
		o.lastErr = userFacingError(err)
		o.mu.Unlock()
	}
	return err
}

// runCompletionTurn opens an assistant message and grows it chunk by chunk.
func (o *Orchestrator) runCompletionTurn(ctx context.Context, firstExchange bool, userText string) error {
	open := o.appendAndPublish(ctx, newMessage(RoleAssistant, ""))

	o.mu.Lock()
	o.state = StateStreaming
	o.mu.Unlock()

	events, err := stream.Open(ctx, o.backend, o.upstreamMessages(open))
	if err != nil {
		// Nothing streamed; close the open message with the failure noted.
		o.mutateAndPublish(ctx, func() {
			o.conv.Messages[open].Content = userFacingError(err)
		})
		return err
	}

	for ev := range events {
		if ev.Err != nil {
			// Partial content stays; settling the error is the caller's job.
			if errors.Is(ev.Err, context.Canceled) {
				return nil
			}
			return ev.Err
		}
		if ev.Chunk.Done {
			break
		}
		o.mutateAndPublish(ctx, func() {
			o.conv.Messages[open].Content += ev.Chunk.Content
		})
	}

	if firstExchange {
		o.mutateAndPublish(ctx, func() {
			o.conv.Title = titleFrom(userText)
		})
	}
	return nil
}

// runImageTurn publishes a working placeholder, performs the operation, then
// resolves the placeholder with the result or a user-facing explanation. The
// placeholder is never left unresolved.
func (o *Orchestrator) runImageTurn(ctx context.Context, op func(context.Context) (Asset, error)) error {
	working := newMessage(RoleAssistant, "Working on it…")
	working.ImageOp = true
	idx := o.appendAndPublish(ctx, working)

	asset, err := op(ctx)
	if err != nil {
		o.mutateAndPublish(ctx, func() {
			o.conv.Messages[idx].Content = userFacingError(err)
		})
		if errors.Is(err, errEditUnsupported) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	o.mutateAndPublish(ctx, func() {
		msg := &o.conv.Messages[idx]
		msg.Content = "Here you go."
		msg.Asset = &asset
	})
	return nil
}

var errEditUnsupported = errors.New("chat: edit kind not yet supported")

func (o *Orchestrator) generateImage(ctx context.Context, prompt string) (Asset, error) {
	if o.images == nil {
		return Asset{}, errors.New("chat: image service not configured")
	}
	return o.images.Generate(ctx, prompt)
}

func (o *Orchestrator) editImage(ctx context.Context, uploaded *Asset, kind classify.EditKind) (Asset, error) {
	if kind == classify.EditUnknown {
		return Asset{}, errEditUnsupported
	}
	if o.images == nil {
		return Asset{}, errors.New("chat: image service not configured")
	}
	if uploaded == nil {
		return Asset{}, errors.New("chat: edit requires an attached image")
	}
	return o.images.Edit(ctx, *uploaded, kind)
}

// appendAndPublish appends msg, persists, publishes, and returns its index.
func (o *Orchestrator) appendAndPublish(ctx context.Context, msg Message) int {
	var idx int
	o.mutateAndPublish(ctx, func() {
		o.conv.Messages = append(o.conv.Messages, msg)
		idx = len(o.conv.Messages) - 1
	})
	return idx
}

// mutateAndPublish applies fn under the lock, persists, and republishes the
// whole snapshot.
func (o *Orchestrator) mutateAndPublish(ctx context.Context, fn func()) {
	o.mu.Lock()
	fn()
	o.conv.UpdatedAt = time.Now().UTC()
	snap := o.conv.snapshot()
	o.mu.Unlock()

	// Persistence failures must not abort a live stream; log and keep going.
	if err := o.store.Save(context.WithoutCancel(ctx), o.conv); err != nil {
		o.debugf("chat.save conv=%s err=%v", o.conv.ID, err)
	}
	if o.publish != nil {
		o.publish(snap)
	}
}

func (o *Orchestrator) upstreamMessages(openIdx int) []provider.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]provider.Message, 0, openIdx)
	for _, m := range o.conv.Messages[:openIdx] {
		out = append(out, provider.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (o *Orchestrator) debugf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}

// userFacingError translates an internal failure into text fit for the end
// user.
func userFacingError(err error) string {
	if errors.Is(err, errEditUnsupported) {
		return "I can't do that edit yet — try asking me to remove the background instead."
	}
	if errors.Is(err, context.Canceled) {
		return "Generation was canceled."
	}
	if ue, ok := provider.AsUpstreamError(err); ok {
		switch ue.Kind {
		case provider.KindAuth:
			return "The configured API credential was rejected. Check the provider key and try again."
		case provider.KindRateLimited:
			return "The provider is rate limiting requests. Please retry in a moment."
		case provider.KindServerFault:
			return "The provider had a temporary problem. Please retry."
		}
		return fmt.Sprintf("The provider rejected the request: %s", ue.Message)
	}
	return "Failed to reach the server. Check your connection, or configure a direct API credential."
}
