package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RichardoC/labassist/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrEmptyPrompt is returned when Respond is handed blank user text. Callers
// are expected to reject that before a turn starts.
var ErrEmptyPrompt = errors.New("llm: empty prompt")

// ClientFactory builds an inference client for one call.
type ClientFactory func(ctx context.Context, apiKey, model string) (llms.Model, error)

// GoogleAI builds a Gemini client through langchaingo.
func GoogleAI(ctx context.Context, apiKey, model string) (llms.Model, error) {
	client, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Request is one fully assembled inference call.
type Request struct {
	Model             string
	Contents          []llms.MessageContent
	SystemInstruction string
	Temperature       float64
	MaxTokens         int
}

// Messages returns the system policy followed by the contents, the shape
// langchaingo expects.
func (r Request) Messages() []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(r.Contents)+1)
	out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, r.SystemInstruction))
	return append(out, r.Contents...)
}

// Assemble builds the request for a turn. history is the conversation before the
// new user text; it is copied verbatim, failed turns included.
func Assemble(model string, history []models.Message, files []models.UploadedFile, text string) (Request, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Request{}, ErrEmptyPrompt
	}

	contents := make([]llms.MessageContent, 0, len(history)+2)

	if len(files) > 0 {
		block, err := contextBlock(files)
		if err != nil {
			return Request{}, err
		}
		contents = append(contents, block)
	}

	for _, msg := range history {
		contents = append(contents, llms.TextParts(chatRole(msg.Role), msg.Text))
	}

	contents = append(contents, llms.TextParts(llms.ChatMessageTypeHuman, text))

	return Request{
		Model:             model,
		Contents:          contents,
		SystemInstruction: SystemInstruction,
		Temperature:       Temperature,
		MaxTokens:         MaxOutputTokens,
	}, nil
}

// contextBlock carries every attachment, then the manifest and the precedence
// reminder.
func contextBlock(files []models.UploadedFile) (llms.MessageContent, error) {
	parts := make([]llms.ContentPart, 0, len(files)+1)
	for _, f := range files {
		data, err := base64.StdEncoding.DecodeString(f.Payload)
		if err != nil {
			return llms.MessageContent{}, fmt.Errorf("decode payload of %s: %w", f.Name, err)
		}
		parts = append(parts, llms.BinaryPart(f.MimeType, data))
	}
	parts = append(parts, llms.TextContent{Text: manifestText(files)})
	return llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts}, nil
}

func manifestText(files []models.UploadedFile) string {
	var b strings.Builder
	b.WriteString(contextHeader)
	b.WriteString(" \n\nFILE MANIFEST:\n")
	for i, f := range files {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s (%s)", f.Name, f.Category)
	}
	b.WriteString("\n\n")
	b.WriteString(PrecedenceReminder)
	return b.String()
}

func chatRole(r models.Role) llms.ChatMessageType {
	if r == models.RoleAssistant {
		return llms.ChatMessageTypeAI
	}
	return llms.ChatMessageTypeHuman
}

type Service struct {
	model     string
	newClient ClientFactory
	logger    *zap.Logger
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	failures  metric.Int64Counter
}

type Option func(*Service)

func WithClientFactory(f ClientFactory) Option {
	return func(s *Service) { s.newClient = f }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithMeter registers the inference instruments on m instead of the global
// meter provider.
func WithMeter(m metric.Meter) Option {
	return func(s *Service) {
		if err := s.instrument(m); err != nil {
			s.logger.Warn("failed to create inference instruments", zap.Error(err))
		}
	}
}

func New(model string, logger *zap.Logger, opts ...Option) (*Service, error) {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		model:     model,
		newClient: GoogleAI,
		logger:    logger,
		tracer:    otel.Tracer("labassist/llm"),
	}
	if err := s.instrument(otel.Meter("labassist/llm")); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) instrument(m metric.Meter) error {
	duration, err := m.Float64Histogram(
		"labassist.inference.duration",
		metric.WithDescription("Inference call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create duration histogram: %w", err)
	}
	failures, err := m.Int64Counter(
		"labassist.turn.failures",
		metric.WithDescription("Failed turns by kind"),
	)
	if err != nil {
		return fmt.Errorf("failed to create failure counter: %w", err)
	}
	s.duration, s.failures = duration, failures
	return nil
}

func (s *Service) Model() string { return s.model }

// Respond assembles the turn and makes the single inference call. Every
// failed call comes back as a *Failure. Blank text is not a turn at all and
// returns ErrEmptyPrompt unwrapped, with no failure recorded.
func (s *Service) Respond(ctx context.Context, credential string, history []models.Message, files []models.UploadedFile, text string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.model", s.model),
		attribute.Int("labassist.files", len(files)),
		attribute.Int("labassist.history", len(history)),
	))
	defer span.End()

	if strings.TrimSpace(credential) == "" {
		return "", s.fail(ctx, span, &Failure{Kind: KindMissingCredential})
	}

	req, err := Assemble(s.model, history, files, text)
	if errors.Is(err, ErrEmptyPrompt) {
		return "", err
	}
	if err != nil {
		return "", s.fail(ctx, span, classifyTransport(err))
	}

	client, err := s.newClient(ctx, credential, s.model)
	if err != nil {
		return "", s.fail(ctx, span, classifyTransport(fmt.Errorf("failed to initialize client: %w", err)))
	}

	start := time.Now()
	resp, err := client.GenerateContent(ctx, req.Messages(),
		llms.WithModel(req.Model),
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(req.MaxTokens),
	)
	s.duration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return "", s.fail(ctx, span, classifyTransport(err))
	}

	answer := firstText(resp)
	if answer == "" {
		return "", s.fail(ctx, span, &Failure{Kind: KindEmptyResponse})
	}
	if stop := stopReason(resp); truncated(stop) {
		span.SetAttributes(attribute.Bool("llm.truncated", true))
		s.logger.Warn("response hit the output token limit",
			zap.String("model", s.model),
			zap.String("stop_reason", stop),
			zap.Int("max_tokens", req.MaxTokens))
	}

	s.logger.Debug("generated response",
		zap.String("model", s.model),
		zap.Int("files", len(files)),
		zap.Int("chars", len(answer)))
	return answer, nil
}

func (s *Service) fail(ctx context.Context, span trace.Span, f *Failure) error {
	s.logger.Error("turn failed", zap.Stringer("kind", f.Kind), zap.Error(f.Cause))
	span.RecordError(f)
	span.SetStatus(codes.Error, f.Kind.String())
	s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", f.Kind.String())))
	return f
}

func stopReason(resp *llms.ContentResponse) string {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return ""
	}
	return resp.Choices[0].StopReason
}

// truncated matches both MAX_TOKENS and FinishReasonMaxTokens spellings.
func truncated(stop string) bool {
	return strings.Contains(strings.ToLower(strings.ReplaceAll(stop, "_", "")), "maxtokens")
}

func firstText(resp *llms.ContentResponse) string {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return ""
	}
	return resp.Choices[0].Content
}
