package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/zj793039327/jBrowserDriver/internal/backend"
	"github.com/zj793039327/jBrowserDriver/internal/logging"
	"github.com/zj793039327/jBrowserDriver/internal/metrics"
	"github.com/zj793039327/jBrowserDriver/internal/profile"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

const (
	defaultSessionTimeout = 3600
	minSessionTimeout     = 60
	maxSessionTimeout     = 21600

	defaultRetention = time.Hour
)

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	// Defaults are the settings of sessions created without any.
	Defaults           models.Settings
	SessionsPerProject int64
	Grace              time.Duration
	// Retention is how long a finished session stays listed before it is
	// forgotten. Zero means defaultRetention.
	Retention          time.Duration
	Logger             *logrus.Logger
}

type entry struct {
	mu    sync.Mutex
	info  models.Session
	sess  *Session
	timer *time.Timer
}

func (e *entry) snapshot() *models.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.info
	return &out
}

// Manager handles all session operations
type Manager struct {
	sessions    sync.Map // sessionID -> *entry
	concurrency map[string]*semaphore.Weighted
	mu          sync.Mutex
	backends    *backend.Registry
	profiles    *profile.Manager
	opts        ManagerOptions
	log         *logrus.Logger
}

// NewManager creates a new session manager
func NewManager(backends *backend.Registry, profiles *profile.Manager, opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = logging.NullLogger()
	}
	if opts.SessionsPerProject <= 0 {
		opts.SessionsPerProject = 10
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	return &Manager{
		concurrency: make(map[string]*semaphore.Weighted),
		backends:    backends,
		profiles:    profiles,
		opts:        opts,
		log:         opts.Logger,
	}
}

// CreateSession creates a session. Its engine starts on the first command,
// or right away when the request is eager.
func (m *Manager) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("%w: projectId is required", ErrInvalidArgument)
	}
	if req.Timeout == 0 {
		req.Timeout = defaultSessionTimeout
	}
	if req.Timeout < minSessionTimeout || req.Timeout > maxSessionTimeout {
		return nil, fmt.Errorf("%w: timeout must be between %d and %d seconds",
			ErrInvalidArgument, minSessionTimeout, maxSessionTimeout)
	}

	settings := m.opts.Defaults
	if req.Settings != nil {
		settings = *req.Settings
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	factory, err := m.backends.Select(req.Backend)
	if err != nil {
		return nil, err
	}

	if err := m.acquireSlot(req.ProjectID); err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	log := m.log.WithField("session", sessionID).WithField("project", req.ProjectID)

	dirs, err := m.profiles.SessionDirs(sessionID)
	if err != nil {
		m.releaseSlot(req.ProjectID)
		return nil, err
	}
	if req.ProfileID != "" {
		if err := m.restoreProfile(req.ProfileID, dirs.UserData); err != nil {
			m.discard(sessionID, req.ProjectID)
			return nil, err
		}
	}

	sess := New(sessionID, settings, Options{
		Factory: factory,
		Logger:  m.log,
		Dirs:    dirs,
		Grace:   m.opts.Grace,
	})
	if req.Eager {
		if err := sess.Init(ctx); err != nil {
			_ = sess.Kill(ctx)
			m.discard(sessionID, req.ProjectID)
			return nil, err
		}
	}

	now := time.Now()
	e := &entry{
		sess: sess,
		info: models.Session{
			ID:        sessionID,
			ProjectID: req.ProjectID,
			Status:    models.StatusRunning,
			Backend:   factory.Name(),
			StartedAt: now,
			ExpiresAt: now.Add(time.Duration(req.Timeout) * time.Second),
			Timeout:   req.Timeout,
			ProfileID: req.ProfileID,
			Settings:  settings,
			Dirs:      dirs,
		},
	}
	e.mu.Lock()
	m.sessions.Store(sessionID, e)
	e.timer = time.AfterFunc(time.Duration(req.Timeout)*time.Second, func() {
		m.expire(sessionID)
	})
	e.mu.Unlock()

	metrics.ActiveSessions.Inc()
	log.WithField("backend", factory.Name()).Info("session created")
	return e.snapshot(), nil
}

func (m *Manager) restoreProfile(profileID, userDataDir string) error {
	if _, err := m.profiles.GetProfile(profileID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	err := m.profiles.LoadProfileData(profileID, userDataDir)
	if errors.Is(err, profile.ErrNoData) {
		// first use of the profile
		return nil
	}
	return err
}

// discard undoes a creation that failed half way.
func (m *Manager) discard(sessionID, projectID string) {
	if err := m.profiles.RemoveSessionDirs(sessionID); err != nil {
		m.log.WithError(err).WithField("session", sessionID).Warn("failed to remove session directories")
	}
	m.releaseSlot(projectID)
}

// GetSession returns a copy of the session's record.
func (m *Manager) GetSession(id string) (*models.Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	info := e.snapshot()
	if info.Status == models.StatusRunning {
		info.Settings = e.sess.Settings()
	}
	return info, nil
}

// Session returns the live handle of a running session.
func (m *Manager) Session(id string) (*Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.info.Status != models.StatusRunning {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	return e.sess, nil
}

func (m *Manager) lookup(id string) (*entry, error) {
	value, ok := m.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return value.(*entry), nil
}

// ListSessions returns all sessions for a project, optionally filtered by status
func (m *Manager) ListSessions(projectID string, status models.SessionStatus) []*models.Session {
	var sessions []*models.Session
	m.sessions.Range(func(key, value any) bool {
		info := value.(*entry).snapshot()
		if projectID != "" && info.ProjectID != projectID {
			return true
		}
		if status != "" && info.Status != status {
			return true
		}
		sessions = append(sessions, info)
		return true
	})
	return sessions
}

// DeleteSession quits a running session, saves its profile and marks it completed.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	return m.finish(ctx, id, models.StatusCompleted)
}

func (m *Manager) expire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := m.finish(ctx, id, models.StatusTimedOut)
	if err != nil && !errors.Is(err, ErrNotRunning) {
		m.log.WithError(err).WithField("session", id).Warn("failed to expire session")
		return
	}
	if err == nil {
		m.log.WithField("session", id).Info("session timed out")
	}
}

// finish moves a running session to final. Only the first caller wins.
func (m *Manager) finish(ctx context.Context, id string, final models.SessionStatus) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.info.Status != models.StatusRunning {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	e.info.Status = final
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(m.opts.Retention, func() {
		m.sessions.CompareAndDelete(id, e)
	})
	info := e.info
	e.mu.Unlock()

	log := m.log.WithField("session", id)
	if err := e.sess.Kill(ctx); err != nil {
		log.WithError(err).Warn("engine did not shut down cleanly")
	}

	if info.ProfileID != "" {
		if err := m.saveProfile(info); err != nil {
			log.WithError(err).WithField("profile", info.ProfileID).Warn("failed to save profile")
		}
	}
	if err := m.profiles.RemoveSessionDirs(id); err != nil {
		log.WithError(err).Warn("failed to remove session directories")
	}

	m.releaseSlot(info.ProjectID)
	metrics.ActiveSessions.Dec()
	log.WithField("status", final).Info("session finished")
	return nil
}

func (m *Manager) saveProfile(info models.Session) error {
	if err := m.profiles.SaveProfileData(info.ProfileID, info.Dirs.UserData); err != nil {
		return err
	}
	return m.profiles.TouchProfile(info.ProfileID)
}

// Usage reports how many sessions a project has.
func (m *Manager) Usage(projectID string) models.ProjectUsage {
	usage := models.ProjectUsage{ProjectID: projectID}
	for _, info := range m.ListSessions(projectID, "") {
		usage.TotalSessions++
		if info.Status == models.StatusRunning {
			usage.ActiveSessions++
		}
	}
	return usage
}

// Close completes every running session.
func (m *Manager) Close(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, info := range m.ListSessions("", models.StatusRunning) {
		id := info.ID
		g.Go(func() error {
			err := m.finish(ctx, id, models.StatusCompleted)
			if errors.Is(err, ErrNotRunning) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// acquireSlot tries to acquire a concurrency slot for the project
func (m *Manager) acquireSlot(projectID string) error {
	m.mu.Lock()
	sem, exists := m.concurrency[projectID]
	if !exists {
		sem = semaphore.NewWeighted(m.opts.SessionsPerProject)
		m.concurrency[projectID] = sem
	}
	m.mu.Unlock()

	if !sem.TryAcquire(1) {
		return fmt.Errorf("%w: %d sessions for project %s", ErrLimit, m.opts.SessionsPerProject, projectID)
	}
	return nil
}

// releaseSlot releases a concurrency slot for the project
func (m *Manager) releaseSlot(projectID string) {
	m.mu.Lock()
	sem, exists := m.concurrency[projectID]
	m.mu.Unlock()

	if exists {
		sem.Release(1)
	}
}
