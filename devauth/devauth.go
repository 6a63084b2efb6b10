// Package devauth manages developer accounts, their projects, and API keys.
//
// This is boundary plumbing around the matching engine: store-and-return
// CRUD with no invariant beyond key uniqueness. State is kept in memory,
// matching the demo-grade retention of the rest of the tenancy layer.
package devauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	payauth "github.com/safu-labs/payauth"
)

// DefaultProjectID names the project bootstrapped from process config.
const DefaultProjectID = "default"

const devTokenTTL = 24 * time.Hour

// APIKey authenticates challenge issuance for one project.
type APIKey struct {
	Key       string    `json:"key"`
	ProjectID string    `json:"projectId"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is a developer account owning one project.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	ProjectID    string
}

// LoginResult is returned on signup and login.
type LoginResult struct {
	Token   string          `json:"token"`
	Project payauth.Project `json:"project"`
	APIKey  APIKey          `json:"apiKey"`
}

// DevClaims identifies a logged-in developer.
type DevClaims struct {
	Email     string `json:"email"`
	ProjectID string `json:"projectId"`
	jwt.RegisteredClaims
}

// Defaults seeds project policy for new signups and the default project.
type Defaults struct {
	MinLamports  uint64
	ChallengeTTL time.Duration
	Commitment   string
}

// Registry holds developers, projects, and API keys behind one mutex.
type Registry struct {
	jwtSecret []byte
	defaults  Defaults
	nowFn     func() time.Time

	mu            sync.RWMutex
	projects      map[string]payauth.Project
	users         map[string]User              // by email
	keys          map[string]APIKey            // by key
	keysByProject map[string][]APIKey
}

// NewRegistry creates an empty registry.
func NewRegistry(jwtSecret []byte, defaults Defaults) *Registry {
	return &Registry{
		jwtSecret:     jwtSecret,
		defaults:      defaults,
		nowFn:         time.Now,
		projects:      make(map[string]payauth.Project),
		users:         make(map[string]User),
		keys:          make(map[string]APIKey),
		keysByProject: make(map[string][]APIKey),
	}
}

// EnsureDefaultProject bootstraps the default project and its first API key
// if they do not exist yet. Returns the current key for the default project.
func (r *Registry) EnsureDefaultProject() APIKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[DefaultProjectID]; ok {
		keys := r.keysByProject[DefaultProjectID]
		return keys[len(keys)-1]
	}
	r.projects[DefaultProjectID] = payauth.Project{
		ID:           DefaultProjectID,
		Name:         "Default Project",
		MinLamports:  r.defaults.MinLamports,
		ChallengeTTL: r.defaults.ChallengeTTL,
		Commitment:   r.defaults.Commitment,
	}
	return r.mintKeyLocked(DefaultProjectID)
}

// Signup registers a developer, creates their project, and returns a login
// token plus the first API key.
func (r *Registry) Signup(email, password string, cfg payauth.Project) (LoginResult, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return LoginResult{}, fmt.Errorf("hash password: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[email]; ok {
		return LoginResult{}, payauth.NewAuthError(payauth.ErrCodeUserExists, "account already exists")
	}

	project := payauth.Project{
		ID:            uuid.NewString(),
		Name:          cfg.Name,
		MinLamports:   cfg.MinLamports,
		ChallengeTTL:  cfg.ChallengeTTL,
		Commitment:    cfg.Commitment,
		WebhookURL:    cfg.WebhookURL,
		WebhookSecret: cfg.WebhookSecret,
	}
	if project.Name == "" {
		project.Name = email + "'s project"
	}
	if project.MinLamports == 0 {
		project.MinLamports = r.defaults.MinLamports
	}
	if project.ChallengeTTL == 0 {
		project.ChallengeTTL = r.defaults.ChallengeTTL
	}
	if project.Commitment == "" {
		project.Commitment = r.defaults.Commitment
	}
	r.projects[project.ID] = project

	user := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		ProjectID:    project.ID,
	}
	r.users[email] = user

	apiKey := r.mintKeyLocked(project.ID)
	token, err := r.issueDevToken(user)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, Project: project, APIKey: apiKey}, nil
}

// Login authenticates a developer and returns a fresh token with the
// project's latest API key.
func (r *Registry) Login(email, password string) (LoginResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[email]
	if !ok {
		return LoginResult{}, payauth.NewAuthError(payauth.ErrCodeInvalidCredentials, "unknown account or wrong password")
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return LoginResult{}, payauth.NewAuthError(payauth.ErrCodeInvalidCredentials, "unknown account or wrong password")
	}
	project, ok := r.projects[user.ProjectID]
	if !ok {
		return LoginResult{}, payauth.NewAuthError(payauth.ErrCodeProjectMissing, "project no longer exists")
	}

	keys := r.keysByProject[project.ID]
	var apiKey APIKey
	if len(keys) > 0 {
		apiKey = keys[len(keys)-1]
	} else {
		apiKey = r.mintKeyLocked(project.ID)
	}

	token, err := r.issueDevToken(user)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, Project: project, APIKey: apiKey}, nil
}

// ProjectByAPIKey resolves an API key to its project. Unknown keys report
// found=false.
func (r *Registry) ProjectByAPIKey(key string) (payauth.Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	apiKey, ok := r.keys[key]
	if !ok {
		return payauth.Project{}, false
	}
	project, ok := r.projects[apiKey.ProjectID]
	return project, ok
}

// Project returns a project by id.
func (r *Registry) Project(id string) (payauth.Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	project, ok := r.projects[id]
	return project, ok
}

// KeysForProject lists a project's API keys, oldest first.
func (r *Registry) KeysForProject(projectID string) []APIKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := r.keysByProject[projectID]
	out := make([]APIKey, len(keys))
	copy(out, keys)
	return out
}

// RotateKey mints a new API key for the project. Old keys stay valid; the
// latest key is the one reported to the dashboard.
func (r *Registry) RotateKey(projectID string) APIKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mintKeyLocked(projectID)
}

// VerifyDevToken validates a developer token and returns its claims.
func (r *Registry) VerifyDevToken(token string) (*DevClaims, bool) {
	claims := new(DevClaims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return r.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, false
	}
	return claims, true
}

func (r *Registry) issueDevToken(user User) (string, error) {
	now := r.nowFn().Truncate(time.Second)
	claims := DevClaims{
		Email:     user.Email,
		ProjectID: user.ProjectID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(devTokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign developer token: %w", err)
	}
	return token, nil
}

// mintKeyLocked creates and indexes an API key. Caller holds the mutex.
func (r *Registry) mintKeyLocked(projectID string) APIKey {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("devauth: read random: %v", err))
	}
	apiKey := APIKey{
		Key:       hex.EncodeToString(raw),
		ProjectID: projectID,
		CreatedAt: r.nowFn(),
	}
	r.keys[apiKey.Key] = apiKey
	r.keysByProject[projectID] = append(r.keysByProject[projectID], apiKey)
	return apiKey
}
