// Package session holds the state of one chat session and the operations that
// move it forward. State values are never mutated in place: every operation
// returns a new State whose slices share nothing writable with the old one.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/RichardoC/labassist/internal/models"
	"github.com/google/uuid"
)

// Greeting opens every conversation. It is not produced by the model.
const Greeting = "Hello. I am the Lab Assistant. Please upload your local protocols (TXT), manuals (PDF) or training videos (MP4), and I will answer questions based strictly on their content."

// genericFailureText stands in when a failure carries no text of its own.
const genericFailureText = "I encountered an error. Please check your settings."

var (
	ErrEmptyInput = errors.New("session: empty input")
	ErrBusy       = errors.New("session: a request is already in flight")
)

// Responder answers one turn. It is the only suspension point of a turn.
type Responder interface {
	Respond(ctx context.Context, credential string, history []models.Message, files []models.UploadedFile, text string) (string, error)
}

type State struct {
	Credential string
	Files      []models.UploadedFile
	Messages   []models.Message
	InFlight   bool
}

// Turn is what BeginTurn hands to the Responder.
type Turn struct {
	Credential string
	History    []models.Message // conversation before the user message of this turn
	Files      []models.UploadedFile
	Text       string
}

// Outcome reports how a turn ended. Reply is always appended to the conversation.
type Outcome struct {
	Reply models.Message
	Err   error
}

var now = time.Now

func newMessage(role models.Role, text string) models.Message {
	return models.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: now(),
	}
}

// New starts a session with only the greeting.
func New(credential string) State {
	return State{
		Credential: credential,
		Messages:   []models.Message{newMessage(models.RoleAssistant, Greeting)},
	}
}

// AddFile appends f to the file set.
func AddFile(s State, f models.UploadedFile) State {
	files := make([]models.UploadedFile, 0, len(s.Files)+1)
	files = append(files, s.Files...)
	s.Files = append(files, f)
	return s
}

// RemoveFile drops the file with the given id. The bool reports whether one
// was found.
func RemoveFile(s State, id string) (State, bool) {
	files := make([]models.UploadedFile, 0, len(s.Files))
	found := false
	for _, f := range s.Files {
		if f.ID == id {
			found = true
			continue
		}
		files = append(files, f)
	}
	s.Files = files
	return s, found
}

func appendMessage(s State, msg models.Message) State {
	messages := make([]models.Message, 0, len(s.Messages)+1)
	messages = append(messages, s.Messages...)
	s.Messages = append(messages, msg)
	return s
}

// BeginTurn records the user's message and marks the session busy. Blank text
// changes nothing.
func BeginTurn(s State, text string) (State, Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return s, Turn{}, ErrEmptyInput
	}
	if s.InFlight {
		return s, Turn{}, ErrBusy
	}

	turn := Turn{
		Credential: s.Credential,
		History:    s.Messages,
		Files:      s.Files,
		Text:       text,
	}
	s = appendMessage(s, newMessage(models.RoleUser, text))
	s.InFlight = true
	return s, turn, nil
}

// CompleteTurn appends the assistant's reply, or an error-flagged notice when
// err is set, and clears the busy flag.
func CompleteTurn(s State, reply string, err error) (State, Outcome) {
	var msg models.Message
	if err != nil {
		text := err.Error()
		if text == "" {
			text = genericFailureText
		}
		msg = newMessage(models.RoleAssistant, text)
		msg.Error = true
	} else {
		msg = newMessage(models.RoleAssistant, reply)
	}
	s = appendMessage(s, msg)
	s.InFlight = false
	return s, Outcome{Reply: msg, Err: err}
}

// SubmitTurn runs a whole turn against r. Blank input returns the state
// unchanged with ErrEmptyInput and never reaches r.
func SubmitTurn(ctx context.Context, s State, r Responder, text string) (State, Outcome, error) {
	s, turn, err := BeginTurn(s, text)
	if err != nil {
		return s, Outcome{}, err
	}
	reply, rerr := r.Respond(ctx, turn.Credential, turn.History, turn.Files, turn.Text)
	s, out := CompleteTurn(s, reply, rerr)
	return s, out, nil
}
