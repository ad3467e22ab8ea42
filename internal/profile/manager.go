package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

var (
	ErrNotFound = errors.New("profile not found")
	ErrNoData   = errors.New("profile has no saved data")
)

// Manager persists browser profiles as archived user-data directories and
// hands out per-session storage directories.
type Manager struct {
	profiles  sync.Map // profileID -> *models.Profile
	storePath string   // archives live in storePath/profiles, sessions in storePath/sessions
	mu        sync.Mutex
	log       logrus.FieldLogger
}

// NewManager creates a profile manager rooted at storePath.
func NewManager(storePath string, log logrus.FieldLogger) (*Manager, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	for _, dir := range []string{storePath, filepath.Join(storePath, "profiles"), filepath.Join(storePath, "sessions")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return &Manager{storePath: storePath, log: log}, nil
}

// CreateProfile creates an empty profile.
func (m *Manager) CreateProfile(projectID string) (*models.Profile, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectId is required")
	}

	now := time.Now()
	p := &models.Profile{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.profiles.Store(p.ID, p)
	m.log.WithField("profile", p.ID).WithField("project", projectID).Info("profile created")

	out := *p
	return &out, nil
}

// GetProfile returns a copy of the profile.
func (m *Manager) GetProfile(id string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	out := *p
	return &out, nil
}

func (m *Manager) lookup(id string) (*models.Profile, error) {
	value, ok := m.profiles.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return value.(*models.Profile), nil
}

// TouchProfile bumps the profile's update time.
func (m *Manager) TouchProfile(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(id)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now()
	return nil
}

// DeleteProfile removes a profile and its archive.
func (m *Manager) DeleteProfile(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(id)
	if err != nil {
		return err
	}
	if p.DataPath != "" {
		if err := os.Remove(p.DataPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete profile data: %w", err)
		}
	}
	m.profiles.Delete(id)
	m.log.WithField("profile", id).Info("profile deleted")
	return nil
}

// SaveProfileData archives userDataDir as the profile's data.
func (m *Manager) SaveProfileData(profileID, userDataDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(profileID)
	if err != nil {
		return err
	}

	archivePath := filepath.Join(m.storePath, "profiles", profileID+".tar.gz")
	tmp := archivePath + ".tmp"
	if err := compressDirectory(userDataDir, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to compress profile data: %w", err)
	}
	if err := os.Rename(tmp, archivePath); err != nil {
		return fmt.Errorf("failed to store profile data: %w", err)
	}

	p.DataPath = archivePath
	p.UpdatedAt = time.Now()
	m.log.WithField("profile", profileID).Debug("profile data saved")
	return nil
}

// LoadProfileData extracts the profile's saved data into dest.
func (m *Manager) LoadProfileData(profileID, dest string) error {
	m.mu.Lock()
	p, err := m.lookup(profileID)
	var archive string
	if err == nil {
		archive = p.DataPath
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if archive == "" {
		return ErrNoData
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create user data directory: %w", err)
	}
	if err := extractDirectory(archive, dest); err != nil {
		return fmt.Errorf("failed to extract profile data: %w", err)
	}
	return nil
}

// SessionDirs creates the storage directories of one session.
func (m *Manager) SessionDirs(sessionID string) (models.Dirs, error) {
	root := filepath.Join(m.storePath, "sessions", sessionID)
	dirs := models.Dirs{
		UserData:    filepath.Join(root, "user-data"),
		Cache:       filepath.Join(root, "cache"),
		Attachments: filepath.Join(root, "attachments"),
		Media:       filepath.Join(root, "media"),
	}
	for _, dir := range []string{dirs.UserData, dirs.Cache, dirs.Attachments, dirs.Media} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return models.Dirs{}, fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	return dirs, nil
}

// RemoveSessionDirs deletes everything SessionDirs created for sessionID.
func (m *Manager) RemoveSessionDirs(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	return os.RemoveAll(filepath.Join(m.storePath, "sessions", sessionID))
}
