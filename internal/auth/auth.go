package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned when a username/password pair does not match
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for missing, malformed, expired or foreign tokens
	ErrInvalidToken = errors.New("invalid token")
)

const issuer = "jandalisys-notifyd"

// User is one entry of the static user directory. PasswordHash is a bcrypt
// hash; Password is accepted for development setups.
type User struct {
	ID           string
	Username     string
	FullName     string
	Password     string
	PasswordHash string
}

// Config contains authenticator configuration
type Config struct {
	// HMAC secret for HS256 tokens
	Secret string

	// Token lifetime
	TokenTTL time.Duration

	// Known users
	Users []User
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		TokenTTL: time.Hour,
	}
}

// Claims are the claims carried by an access token
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Identity is the verified owner of a token
type Identity struct {
	UserID   string
	Username string
}

// Verifier validates bearer tokens
type Verifier interface {
	Verify(token string) (Identity, error)
}

// Authenticator issues and verifies access tokens
type Authenticator struct {
	config Config
	users  map[string]User
	now    func() time.Time
	logger zerolog.Logger
}

var _ Verifier = (*Authenticator)(nil)

// NewAuthenticator creates an authenticator over a static user directory
func NewAuthenticator(config Config) (*Authenticator, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("jwt secret must not be empty")
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultConfig().TokenTTL
	}

	users := make(map[string]User, len(config.Users))
	for _, u := range config.Users {
		users[u.Username] = u
	}

	return &Authenticator{
		config: config,
		users:  users,
		now:    time.Now,
		logger: logging.Component("auth"),
	}, nil
}

// Login checks the credentials and issues a token
func (a *Authenticator) Login(username, password string) (*proto.LoginResponse, error) {
	u, ok := a.users[username]
	if !ok || !checkPassword(u, password) {
		a.logger.Debug().Str("username", username).Msg("Login rejected")
		return nil, ErrInvalidCredentials
	}

	now := a.now()
	expiresAt := now.Add(a.config.TokenTTL)
	token, err := a.Issue(u.ID, u.Username, now, expiresAt)
	if err != nil {
		return nil, err
	}

	return &proto.LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt.UTC(),
		User: proto.User{
			Id:       u.ID,
			Username: u.Username,
			FullName: u.FullName,
		},
	}, nil
}

// Issue signs an HS256 token for the user
func (a *Authenticator) Issue(userID, username string, issuedAt, expiresAt time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:   userID,
		Username: username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token
func (a *Authenticator) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return []byte(a.config.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: no user identifier", ErrInvalidToken)
	}

	return Identity{UserID: userID, Username: claims.Username}, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) string {
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		token, found = strings.CutPrefix(header, "bearer ")
	}
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}

func checkPassword(u User, password string) bool {
	if u.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
	}
	if u.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) == 1
}
