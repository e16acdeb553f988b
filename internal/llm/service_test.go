package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/RichardoC/labassist/internal/models"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	reply    string
	stop     string
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
	calls    int
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply, StopReason: f.stop}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func newTestService(t *testing.T, m *fakeModel) (*Service, *int) {
	t.Helper()
	built := 0
	svc, err := New("", nil, WithClientFactory(func(_ context.Context, apiKey, model string) (llms.Model, error) {
		built++
		if apiKey == "" {
			t.Error("client built without a credential")
		}
		return m, nil
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, &built
}

func greeting() models.Message {
	return models.Message{ID: "1", Role: models.RoleAssistant, Text: "Hello. I am the Lab Assistant.", Timestamp: time.Now()}
}

func file(name string, category models.Category, mimeType, content string) models.UploadedFile {
	return models.UploadedFile{
		ID:       name,
		Name:     name,
		Category: category,
		MimeType: mimeType,
		Payload:  base64.StdEncoding.EncodeToString([]byte(content)),
	}
}

func partText(t *testing.T, p llms.ContentPart) string {
	t.Helper()
	tc, ok := p.(llms.TextContent)
	if !ok {
		t.Fatalf("part is %T, want llms.TextContent", p)
	}
	return tc.Text
}

func TestAssemble_NoFiles(t *testing.T) {
	req, err := Assemble(DefaultModel, []models.Message{greeting()}, nil, "What is the SOP for centrifuge calibration?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Contents) != 2 {
		t.Fatalf("len(Contents) = %d, want 2", len(req.Contents))
	}
	if req.Contents[0].Role != llms.ChatMessageTypeAI {
		t.Errorf("Contents[0].Role = %q, want ai", req.Contents[0].Role)
	}
	if got := partText(t, req.Contents[0].Parts[0]); got != greeting().Text {
		t.Errorf("Contents[0] text = %q, want greeting", got)
	}
	if req.Contents[1].Role != llms.ChatMessageTypeHuman {
		t.Errorf("Contents[1].Role = %q, want human", req.Contents[1].Role)
	}
	if got := partText(t, req.Contents[1].Parts[0]); got != "What is the SOP for centrifuge calibration?" {
		t.Errorf("Contents[1] text = %q", got)
	}
	if req.Temperature != Temperature {
		t.Errorf("Temperature = %v, want %v", req.Temperature, Temperature)
	}
	if req.SystemInstruction != SystemInstruction {
		t.Error("SystemInstruction is not the fixed policy")
	}
}

func TestAssemble_ContextBlock(t *testing.T) {
	files := []models.UploadedFile{
		file("vendor_manual.pdf", models.CategoryManual, "application/pdf", "%PDF-1.7"),
		file("lab_safety_local.txt", models.CategoryProtocol, "text/plain", "Wear goggles."),
		file("training.mp4", models.CategoryVideo, "video/mp4", "mp4"),
	}
	req, err := Assemble(DefaultModel, []models.Message{greeting()}, files, "Do I need goggles?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Contents) != 3 {
		t.Fatalf("len(Contents) = %d, want 3", len(req.Contents))
	}

	block := req.Contents[0]
	if block.Role != llms.ChatMessageTypeHuman {
		t.Errorf("context block role = %q, want human", block.Role)
	}
	if len(block.Parts) != len(files)+1 {
		t.Fatalf("context block has %d parts, want %d", len(block.Parts), len(files)+1)
	}
	for i, f := range files {
		bin, ok := block.Parts[i].(llms.BinaryContent)
		if !ok {
			t.Fatalf("part %d is %T, want llms.BinaryContent", i, block.Parts[i])
		}
		if bin.MIMEType != f.MimeType {
			t.Errorf("part %d MIMEType = %q, want %q", i, bin.MIMEType, f.MimeType)
		}
		want, _ := base64.StdEncoding.DecodeString(f.Payload)
		if string(bin.Data) != string(want) {
			t.Errorf("part %d Data = %q, want %q", i, bin.Data, want)
		}
	}

	manifest := partText(t, block.Parts[len(files)])
	for _, f := range files {
		line := "- " + f.Name + " (" + string(f.Category) + ")"
		if n := strings.Count(manifest, line); n != 1 {
			t.Errorf("manifest contains %q %d times, want 1", line, n)
		}
	}
	if !strings.Contains(manifest, "FILE MANIFEST:") {
		t.Error("manifest header missing")
	}
	if !strings.HasSuffix(manifest, PrecedenceReminder) {
		t.Errorf("manifest does not end with the precedence reminder: %q", manifest)
	}
}

func TestAssemble_ReminderIndependentOfOrder(t *testing.T) {
	local := file("lab_safety_local.txt", models.CategoryProtocol, "text/plain", "Spin at 3000 rpm.")
	manual := file("vendor_manual.pdf", models.CategoryManual, "application/pdf", "Spin at 4000 rpm.")

	for _, files := range [][]models.UploadedFile{{local, manual}, {manual, local}} {
		req, err := Assemble(DefaultModel, nil, files, "What speed?")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		manifest := partText(t, req.Contents[0].Parts[2])
		if !strings.Contains(manifest, PrecedenceReminder) {
			t.Errorf("order %s,%s: reminder missing", files[0].Name, files[1].Name)
		}
	}
}

func TestAssemble_KeepsFailedTurnsInHistory(t *testing.T) {
	history := []models.Message{
		greeting(),
		{ID: "2", Role: models.RoleUser, Text: "first"},
		{ID: "3", Role: models.RoleAssistant, Text: "Failed to generate response. boom", Error: true},
	}
	req, err := Assemble(DefaultModel, history, nil, "second")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Contents) != 4 {
		t.Fatalf("len(Contents) = %d, want 4", len(req.Contents))
	}
	for i, msg := range history {
		if got := partText(t, req.Contents[i].Parts[0]); got != msg.Text {
			t.Errorf("Contents[%d] = %q, want %q", i, got, msg.Text)
		}
	}
}

func TestAssemble_EmptyPrompt(t *testing.T) {
	if _, err := Assemble(DefaultModel, nil, nil, "  \n\t"); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("err = %v, want ErrEmptyPrompt", err)
	}
}

func TestRespond_Success(t *testing.T) {
	m := &fakeModel{reply: "Calibrate monthly, as stated in 'sop.txt'."}
	svc, built := newTestService(t, m)

	got, err := svc.Respond(context.Background(), "key", []models.Message{greeting()}, nil, "How often?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != m.reply {
		t.Errorf("Respond = %q, want %q", got, m.reply)
	}
	if *built != 1 || m.calls != 1 {
		t.Errorf("client built %d times, called %d times, want 1 and 1", *built, m.calls)
	}
	if len(m.messages) != 3 || m.messages[0].Role != llms.ChatMessageTypeSystem {
		t.Fatalf("messages = %d, first role %q; want system policy first", len(m.messages), m.messages[0].Role)
	}
	if partText(t, m.messages[0].Parts[0]) != SystemInstruction {
		t.Error("system message is not the fixed policy")
	}
	if m.opts.Temperature != Temperature {
		t.Errorf("Temperature = %v, want %v", m.opts.Temperature, Temperature)
	}
	if m.opts.Model != DefaultModel {
		t.Errorf("Model = %q, want %q", m.opts.Model, DefaultModel)
	}
	if m.opts.MaxTokens != MaxOutputTokens {
		t.Errorf("MaxTokens = %d, want %d", m.opts.MaxTokens, MaxOutputTokens)
	}
}

func TestRespond_TruncatedAnswerStillReturned(t *testing.T) {
	m := &fakeModel{reply: "Step 1: remove the rotor.", stop: "FinishReasonMaxTokens"}
	svc, _ := newTestService(t, m)

	got, err := svc.Respond(context.Background(), "key", nil, nil, "List every step.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != m.reply {
		t.Errorf("Respond = %q, want %q", got, m.reply)
	}
}

func TestTruncated(t *testing.T) {
	tests := []struct {
		stop string
		want bool
	}{
		{"FinishReasonMaxTokens", true},
		{"MAX_TOKENS", true},
		{"FinishReasonStop", false},
		{"STOP", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := truncated(tt.stop); got != tt.want {
			t.Errorf("truncated(%q) = %v, want %v", tt.stop, got, tt.want)
		}
	}
}

func TestRespond_BlankTextIsNotAFailure(t *testing.T) {
	m := &fakeModel{reply: "unused"}
	svc, built := newTestService(t, m)

	_, err := svc.Respond(context.Background(), "key", nil, nil, "   ")
	if !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("err = %v, want ErrEmptyPrompt", err)
	}
	var f *Failure
	if errors.As(err, &f) {
		t.Errorf("err = %#v, want a bare ErrEmptyPrompt", err)
	}
	if *built != 0 || m.calls != 0 {
		t.Errorf("client built %d times, called %d times, want none", *built, m.calls)
	}
}

func TestRespond_MissingCredential(t *testing.T) {
	m := &fakeModel{reply: "unused"}
	svc, built := newTestService(t, m)

	_, err := svc.Respond(context.Background(), "", nil, nil, "hello")
	var f *Failure
	if !errors.As(err, &f) || f.Kind != KindMissingCredential {
		t.Fatalf("err = %v, want MissingCredential failure", err)
	}
	if *built != 0 || m.calls != 0 {
		t.Errorf("client built %d times, called %d times, want none", *built, m.calls)
	}
}

func TestRespond_EmptyResponse(t *testing.T) {
	svc, _ := newTestService(t, &fakeModel{reply: ""})

	_, err := svc.Respond(context.Background(), "key", nil, nil, "hello")
	var f *Failure
	if !errors.As(err, &f) || f.Kind != KindEmptyResponse {
		t.Fatalf("err = %v, want EmptyResponse failure", err)
	}
}

func TestRespond_TransportFailure(t *testing.T) {
	cause := errors.New("googleapi: Error 503: service unavailable")
	svc, _ := newTestService(t, &fakeModel{err: cause})

	_, err := svc.Respond(context.Background(), "key", nil, nil, "hello")
	var f *Failure
	if !errors.As(err, &f) || f.Kind != KindTransport {
		t.Fatalf("err = %v, want Transport failure", err)
	}
	if !errors.Is(err, cause) {
		t.Error("failure does not wrap the cause")
	}
	if got, want := err.Error(), "Failed to generate response. "+cause.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestRespond_MalformedDocument(t *testing.T) {
	cause := errors.New("googleapi: Error 400: The document has no pages.")
	svc, _ := newTestService(t, &fakeModel{err: cause})

	files := []models.UploadedFile{file("blank.pdf", models.CategoryManual, "application/pdf", "x")}
	_, err := svc.Respond(context.Background(), "key", nil, files, "hello")
	var f *Failure
	if !errors.As(err, &f) || f.Kind != KindMalformedDocument {
		t.Fatalf("err = %v, want MalformedDocument failure", err)
	}
	if got, want := err.Error(), "One of the uploaded PDFs appears to be empty or corrupted. Please check your files."; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestRespond_ClientFactoryError(t *testing.T) {
	svc, err := New("gemini-test", nil, WithClientFactory(func(context.Context, string, string) (llms.Model, error) {
		return nil, errors.New("bad key format")
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = svc.Respond(context.Background(), "key", nil, nil, "hello")
	var f *Failure
	if !errors.As(err, &f) || f.Kind != KindTransport {
		t.Fatalf("err = %v, want Transport failure", err)
	}
	if !strings.Contains(err.Error(), "bad key format") {
		t.Errorf("Error() = %q, want cause text", err.Error())
	}
}

func TestFailureMessage_EmptyCause(t *testing.T) {
	f := &Failure{Kind: KindTransport, Cause: errors.New("")}
	if got := f.Error(); got != "Failed to generate response. Check connection and files." {
		t.Errorf("Error() = %q", got)
	}
}
