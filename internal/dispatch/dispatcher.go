// Package dispatch is the single entry point for inbound chat messages. It
// drops duplicate deliveries, gates unverified senders and routes each
// message to exactly one handler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/archivebot/internal/domain"
	"github.com/aelexs/archivebot/internal/observability"
)

var tracer = otel.Tracer("archivebot/dispatch")

var (
	messagesReceivedTotal     metric.Int64Counter
	messagesDuplicateTotal    metric.Int64Counter
	messagesDispatchedTotal   metric.Int64Counter
	handlerFailuresTotal      metric.Int64Counter
	unverifiedRejectionsTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("archivebot/dispatch")

	messagesReceivedTotal, _ = m.Int64Counter("messages_received_total",
		metric.WithDescription("Total inbound messages"))
	messagesDuplicateTotal, _ = m.Int64Counter("messages_deduplicated_total",
		metric.WithDescription("Total inbound messages dropped as duplicate deliveries"))
	messagesDispatchedTotal, _ = m.Int64Counter("messages_dispatched_total",
		metric.WithDescription("Total messages dispatched, by route"))
	handlerFailuresTotal, _ = m.Int64Counter("handler_failures_total",
		metric.WithDescription("Total handler errors and panics, by route"))
	unverifiedRejectionsTotal, _ = m.Int64Counter("unverified_rejections_total",
		metric.WithDescription("Total messages stopped at the verification gate"))
}

// Route is the outcome of dispatching one message.
type Route string

const (
	RouteVerify     Route = "verify"
	RouteHelp       Route = "help"
	RouteMedia      Route = "media"
	RouteLinks      Route = "links"
	RouteCommand    Route = "command"
	RouteIgnored    Route = "ignored"
	RouteDuplicate  Route = "duplicate"
	RouteGroup      Route = "group"
	RouteUnverified Route = "unverified"
	RouteFailed     Route = "failed"
)

// Chat-facing replies owned by the dispatcher.
const (
	ReplyVerifyFirst = "Please verify your account first using #verify YOUR_CODE"
	ReplyFailure     = "Sorry, there was an error processing your message."
)

var linkPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.\-]*://\S+`)

// Handlers is the command surface the dispatcher routes to. Returned text
// is sent back to the sender; a non-nil error is answered with the generic
// failure reply.
type Handlers interface {
	Verify(ctx context.Context, sender domain.Identity, code string) (string, error)
	Help(ctx context.Context) string
	UploadMedia(ctx context.Context, user domain.User, att *domain.Attachment, progress func(string)) (string, error)
	SaveLinks(ctx context.Context, user domain.User, urls []string) (string, error)
	RunCommand(ctx context.Context, user domain.User, name string, args []string) (string, error)
	LookupVerified(ctx context.Context, sender domain.Identity) (domain.User, error)
}

// Replier delivers a reply to msg through the current transport session.
type Replier func(ctx context.Context, msg domain.InboundMessage, text string) bool

// Config holds the dependencies for Dispatcher.
type Config struct {
	Handlers    Handlers
	Reply       Replier
	InFlight    InFlight
	InFlightTTL time.Duration
	CacheSize   int
	CacheTTL    time.Duration
	HintTTL     time.Duration
	Timeout     time.Duration
	Clock       domain.Clock
	Logger      *slog.Logger
}

// Dispatcher routes inbound messages. Distinct messages are handled
// concurrently with no ordering between them.
type Dispatcher struct {
	handlers    Handlers
	reply       Replier
	inFlight    InFlight
	inFlightTTL time.Duration
	timeout     time.Duration
	verified    *VerifiedUserView
	hinted      *expirable.LRU[string, struct{}]
	logger      *slog.Logger
	bgWG        sync.WaitGroup
}

func New(cfg Config) *Dispatcher {
	if cfg.InFlightTTL <= 0 {
		cfg.InFlightTTL = domain.InFlightTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = domain.VerifiedCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = domain.VerifiedCacheTTL
	}
	if cfg.HintTTL <= 0 {
		cfg.HintTTL = domain.UnverifiedHintTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = domain.HandlerTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.RealClock{}
	}
	if cfg.InFlight == nil {
		cfg.InFlight = NewMemoryInFlight(cfg.Clock)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		handlers:    cfg.Handlers,
		reply:       cfg.Reply,
		inFlight:    cfg.InFlight,
		inFlightTTL: cfg.InFlightTTL,
		timeout:     cfg.Timeout,
		verified:    NewVerifiedUserView(cfg.CacheSize, cfg.CacheTTL, cfg.Handlers.LookupVerified),
		hinted:      expirable.NewLRU[string, struct{}](cfg.CacheSize, nil, cfg.HintTTL),
		logger:      cfg.Logger,
	}
}

// Dispatch handles msg on its own goroutine and returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.InboundMessage) {
	d.bgWG.Add(1)
	go func() {
		defer d.bgWG.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("dispatch.goroutine_panic",
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		d.Handle(hctx, msg)
	}()
}

// Wait blocks until all dispatched messages have been handled.
func (d *Dispatcher) Wait() {
	d.bgWG.Wait()
}

// Handle processes msg synchronously and reports the route it took.
func (d *Dispatcher) Handle(ctx context.Context, msg domain.InboundMessage) Route {
	ctx, span := tracer.Start(ctx, "dispatch.handle")
	defer span.End()

	route := d.guardedRoute(ctx, msg)
	span.SetAttributes(attribute.String("dispatch.route", string(route)))
	messagesDispatchedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("route", string(route))))
	return route
}

// guardedRoute answers a panic anywhere in routing with the generic failure
// reply. Panics inside handler bodies are already caught by run.
func (d *Dispatcher) guardedRoute(ctx context.Context, msg domain.InboundMessage) (route Route) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		route = RouteFailed
		handlerFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("route", "dispatch")))
		span := trace.SpanFromContext(ctx)
		span.RecordError(fmt.Errorf("dispatch panic: %v", r))
		span.SetStatus(codes.Error, "dispatch panicked")
		observability.WithTraceID(ctx, d.logger).ErrorContext(ctx, "dispatch.panic",
			"sender", msg.Sender.Masked(),
			"panic", r,
			"stack", string(debug.Stack()),
		)
		if !msg.FromMe {
			d.send(ctx, msg, ReplyFailure)
		}
	}()
	return d.route(ctx, msg)
}

func (d *Dispatcher) route(ctx context.Context, msg domain.InboundMessage) Route {
	if msg.FromMe {
		return RouteIgnored
	}
	messagesReceivedTotal.Add(ctx, 1)
	logger := observability.WithTraceID(ctx, d.logger)

	id := msg.Identity()
	claimed, err := d.inFlight.Claim(ctx, id, d.inFlightTTL)
	if err != nil {
		// Fail open: a duplicate reply is better than a dropped message.
		logger.WarnContext(ctx, "in-flight claim failed", "error", err)
		claimed = true
	}
	if !claimed {
		messagesDuplicateTotal.Add(ctx, 1)
		logger.DebugContext(ctx, "dispatch.duplicate", "message_id", id)
		return RouteDuplicate
	}

	if msg.IsGroup || msg.Chat.IsGroup() {
		return RouteGroup
	}

	body := strings.TrimSpace(msg.Body)
	name, args := parseCommand(body)

	switch name {
	case "#verify":
		code := ""
		if len(args) > 0 {
			code = args[0]
		}
		d.run(ctx, msg, RouteVerify, func() (string, error) {
			text, err := d.handlers.Verify(ctx, msg.Sender, code)
			d.verified.Forget(msg.Sender)
			return text, err
		})
		return RouteVerify
	case "#help":
		d.run(ctx, msg, RouteHelp, func() (string, error) {
			return d.handlers.Help(ctx), nil
		})
		return RouteHelp
	}

	links := linkPattern.FindAllString(body, -1)

	user, err := d.verified.Get(ctx, msg.Sender)
	if err != nil {
		if !errors.Is(err, domain.ErrNotVerified) && !errors.Is(err, domain.ErrNotFound) {
			handlerFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("route", "lookup")))
			logger.ErrorContext(ctx, "verified user lookup failed", "sender", msg.Sender.Masked(), "error", err)
			d.send(ctx, msg, ReplyFailure)
			return RouteIgnored
		}
		d.rejectUnverified(ctx, msg, name != "" || msg.Attachment != nil || len(links) > 0)
		return RouteUnverified
	}

	switch {
	case msg.Attachment != nil:
		d.run(ctx, msg, RouteMedia, func() (string, error) {
			return d.handlers.UploadMedia(ctx, user, msg.Attachment, func(text string) {
				d.send(ctx, msg, text)
			})
		})
		return RouteMedia
	case len(links) > 0:
		d.run(ctx, msg, RouteLinks, func() (string, error) {
			return d.handlers.SaveLinks(ctx, user, links)
		})
		return RouteLinks
	case name != "":
		d.run(ctx, msg, RouteCommand, func() (string, error) {
			return d.handlers.RunCommand(ctx, user, name, args)
		})
		return RouteCommand
	default:
		return RouteIgnored
	}
}

// rejectUnverified answers an unverified sender. Actionable content always
// gets the hint; plain chatter gets it once per hint window.
func (d *Dispatcher) rejectUnverified(ctx context.Context, msg domain.InboundMessage, actionable bool) {
	unverifiedRejectionsTotal.Add(ctx, 1)
	if !actionable {
		if d.hinted.Contains(msg.Sender.String()) {
			return
		}
		d.hinted.Add(msg.Sender.String(), struct{}{})
	}
	d.send(ctx, msg, ReplyVerifyFirst)
}

// run invokes one handler with error isolation. Errors and panics are
// logged and answered with the generic failure reply.
func (d *Dispatcher) run(ctx context.Context, msg domain.InboundMessage, route Route, fn func() (string, error)) {
	logger := observability.WithTraceID(ctx, d.logger)

	text, err := func() (text string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
				logger.ErrorContext(ctx, "dispatch.handler_panic",
					"route", route,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		return fn()
	}()

	if err != nil {
		handlerFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("route", string(route))))
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		logger.ErrorContext(ctx, "dispatch.handler_failed",
			"route", route,
			"sender", msg.Sender.Masked(),
			"error", err,
		)
		d.send(ctx, msg, ReplyFailure)
		return
	}
	if text != "" {
		d.send(ctx, msg, text)
	}
}

func (d *Dispatcher) send(ctx context.Context, msg domain.InboundMessage, text string) {
	if !d.reply(ctx, msg, text) {
		d.logger.WarnContext(ctx, "reply not delivered", "sender", msg.Sender.Masked())
	}
}

// parseCommand splits a '#'-prefixed body into a lowercased command name
// and its arguments. Non-command bodies yield an empty name.
func parseCommand(body string) (string, []string) {
	if !strings.HasPrefix(body, "#") {
		return "", nil
	}
	fields := strings.Fields(body)
	return strings.ToLower(fields[0]), fields[1:]
}
