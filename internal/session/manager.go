package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/RichardoC/labassist/internal/ingest"
	"github.com/RichardoC/labassist/internal/models"
	"go.uber.org/zap"
)

var ErrEmptyCredential = errors.New("session: empty credential")

// CredentialStore is the durable slot holding the API key between runs.
type CredentialStore interface {
	GetCredential() (string, error)
	SaveCredential(key string) error
	ClearCredential() error
}

// Manager owns the live State for a front end. Its lock is never held across
// the inference call, so reads stay responsive while a turn is outstanding.
type Manager struct {
	mu        sync.Mutex
	state     State
	store     CredentialStore
	responder Responder
	logger    *zap.Logger
	epoch     int // bumped whenever the state is replaced wholesale
}

// NewManager reads the stored credential and starts a fresh conversation.
func NewManager(store CredentialStore, responder Responder, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	key, err := store.GetCredential()
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &Manager{
		state:     New(key),
		store:     store,
		responder: responder,
		logger:    logger,
	}, nil
}

// Snapshot returns the current state. Callers must not modify its slices.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Credential != ""
}

// Authenticate stores key and opens a new conversation with it.
func (m *Manager) Authenticate(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyCredential
	}
	if err := m.store.SaveCredential(key); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	m.mu.Lock()
	inFlight := m.state.InFlight
	m.state = New(key)
	m.state.InFlight = inFlight
	m.epoch++
	m.mu.Unlock()
	m.logger.Info("credential saved")
	return nil
}

// Reset forgets the credential and purges every file and message.
func (m *Manager) Reset() error {
	if err := m.store.ClearCredential(); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	m.mu.Lock()
	purged := len(m.state.Files)
	// An outstanding call keeps the session busy until its reply is dropped.
	m.state = State{InFlight: m.state.InFlight}
	m.epoch++
	m.mu.Unlock()
	m.logger.Info("session reset", zap.Int("purged_files", purged))
	return nil
}

// AddFile ingests d. A declined large file returns added == false and a nil
// error; every other failure leaves the file set untouched.
func (m *Manager) AddFile(d ingest.Descriptor, confirm ingest.Confirmer) (f models.UploadedFile, added bool, err error) {
	f, err = ingest.Ingest(d, confirm)
	if errors.Is(err, ingest.ErrDeclined) {
		m.logger.Info("large file declined", zap.String("name", d.Name), zap.Int64("size", d.Size))
		return models.UploadedFile{}, false, nil
	}
	if err != nil {
		m.logger.Warn("file rejected", zap.String("name", d.Name), zap.String("mime_type", d.MimeType), zap.Error(err))
		return models.UploadedFile{}, false, err
	}

	m.mu.Lock()
	m.state = AddFile(m.state, f)
	total := len(m.state.Files)
	m.mu.Unlock()

	m.logger.Info("file added",
		zap.String("id", f.ID),
		zap.String("name", f.Name),
		zap.String("category", string(f.Category)),
		zap.Int("total", total))
	return f, true, nil
}

func (m *Manager) RemoveFile(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found bool
	m.state, found = RemoveFile(m.state, id)
	return found
}

// Submit runs one turn. It returns ErrEmptyInput or ErrBusy without touching
// the conversation; otherwise the returned message is already appended.
func (m *Manager) Submit(ctx context.Context, text string) (models.Message, error) {
	m.mu.Lock()
	next, turn, err := BeginTurn(m.state, text)
	if err != nil {
		m.mu.Unlock()
		return models.Message{}, err
	}
	m.state = next
	epoch := m.epoch
	m.mu.Unlock()

	reply, rerr := m.responder.Respond(ctx, turn.Credential, turn.History, turn.Files, turn.Text)

	m.mu.Lock()
	var out Outcome
	if m.epoch == epoch {
		m.state, out = CompleteTurn(m.state, reply, rerr)
	} else {
		// The session was reset mid-call; the reply belongs to a purged conversation.
		_, out = CompleteTurn(State{}, reply, rerr)
		m.state.InFlight = false
	}
	m.mu.Unlock()

	if out.Err != nil {
		m.logger.Warn("turn failed", zap.Error(out.Err))
	}
	return out.Reply, nil
}
